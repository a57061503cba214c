package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lnledger/lnledger/events"
	"github.com/lnledger/lnledger/ledger"
)

const (
	// DefaultDeliveryTimeout bounds a single webhook delivery attempt.
	DefaultDeliveryTimeout = 10 * time.Second
)

// UpdateSource is the part of the payment service the notifier needs: a way
// to subscribe to ledger updates.
type UpdateSource interface {
	SubscribeUpdates() (*events.Client[*ledger.PaymentUpdate], error)
}

// Notification is the JSON body delivered to a payment's webhook URL once
// it settles.
type Notification struct {
	PaymentID   string `json:"payment_id"`
	PaymentHash string `json:"payment_hash,omitempty"`
	Direction   string `json:"direction"`
	TxID        string `json:"tx_id,omitempty"`
	AmountMsat  uint64 `json:"amount_msat"`
	SettledAt   int64  `json:"settled_at"`
	ExternalID  string `json:"external_id,omitempty"`
}

// Config holds the notifier's dependencies.
type Config struct {
	// Source is subscribed to for ledger updates.
	Source UpdateSource

	// Client is the HTTP client deliveries go out on. A default client
	// is used when nil.
	Client *http.Client

	// DeliveryTimeout bounds a single delivery attempt. Defaults to
	// DefaultDeliveryTimeout when zero.
	DeliveryTimeout time.Duration
}

// Notifier subscribes to the ledger's event stream and posts a JSON
// notification to the webhook URL of every payment that settles. Delivery
// failures are logged and never propagate back into the ledger.
type Notifier struct {
	started sync.Once
	stopped sync.Once

	cfg Config

	client *events.Client[*ledger.PaymentUpdate]

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewNotifier constructs a webhook notifier from the given config.
func NewNotifier(cfg Config) *Notifier {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}

	return &Notifier{
		cfg:  cfg,
		quit: make(chan struct{}),
	}
}

// Start subscribes to the update source and begins delivering
// notifications.
func (n *Notifier) Start() error {
	var err error
	n.started.Do(func() {
		n.client, err = n.cfg.Source.SubscribeUpdates()
		if err != nil {
			return
		}

		n.wg.Add(1)
		go n.deliveryLoop()
	})

	return err
}

// Stop cancels the subscription and waits for in-flight deliveries.
func (n *Notifier) Stop() error {
	n.stopped.Do(func() {
		close(n.quit)
		if n.client != nil {
			n.client.Cancel()
		}
		n.wg.Wait()
	})

	return nil
}

// deliveryLoop consumes the update stream and delivers a notification for
// every settlement that carries a webhook URL.
func (n *Notifier) deliveryLoop() {
	defer n.wg.Done()

	for {
		select {
		case update := <-n.client.Updates():
			n.handleUpdate(update)

		case <-n.client.Quit():
			return

		case <-n.quit:
			return
		}
	}
}

// handleUpdate delivers a single settlement update, if it is one and has a
// target URL. A failed delivery only produces a log line.
func (n *Notifier) handleUpdate(update *ledger.PaymentUpdate) {
	if update.Kind != ledger.PaymentSettled {
		return
	}

	meta := update.Metadata.UnwrapOr(ledger.PaymentMetadata{})
	if meta.WebhookURL.IsNone() {
		return
	}
	url := meta.WebhookURL.UnwrapOr("")

	if err := n.deliver(url, update); err != nil {
		log.Errorf("Webhook delivery for payment %v to %v failed: %v",
			update.Payment.ID, url, err)

		return
	}

	log.Debugf("Delivered settlement webhook for payment %v to %v",
		update.Payment.ID, url)
}

// deliver posts the settlement notification, bounded by the configured
// timeout.
func (n *Notifier) deliver(url string,
	update *ledger.PaymentUpdate) error {

	body, err := json.Marshal(makeNotification(update))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(
		context.Background(), n.cfg.DeliveryTimeout,
	)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %v", resp.Status)
	}

	return nil
}

// makeNotification flattens a settlement update into its wire form.
func makeNotification(update *ledger.PaymentUpdate) *Notification {
	payment := update.Payment

	notification := &Notification{
		PaymentID:  payment.ID,
		Direction:  payment.Direction.String(),
		AmountMsat: payment.Payload.AmountMsat,
	}

	payment.PaymentHash.WhenSome(func(hash ledger.Hash) {
		notification.PaymentHash = hash.String()
	})
	payment.TxID.WhenSome(func(txID string) {
		notification.TxID = txID
	})
	payment.SettledAt.WhenSome(func(t time.Time) {
		notification.SettledAt = t.UnixMilli()
	})
	update.Metadata.WhenSome(func(meta ledger.PaymentMetadata) {
		notification.ExternalID = meta.ExternalID.UnwrapOr("")
	})

	return notification
}
