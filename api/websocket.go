package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lnledger/lnledger/ledger"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long we wait for a pong before dropping the
	// connection.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait so the peer has a chance
	// to answer.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// streamEvents upgrades the connection to a websocket and forwards every
// ledger update to it until either side goes away.
func (s *Server) streamEvents(c *gin.Context) {
	// Subscribe before completing the handshake, so events published
	// right after the upgrade are not lost.
	client, err := s.cfg.Service.SubscribeUpdates()
	if err != nil {
		log.Errorf("Event subscription failed: %v", err)
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	defer client.Cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// The peer never sends application data, but we still have to drain
	// the connection to process control frames and notice disconnects.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)

		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case update := <-client.Updates():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(marshalEvent(update))
			if err != nil {
				log.Debugf("Websocket write failed, "+
					"dropping subscriber: %v", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}

		case <-readerDone:
			return

		case <-client.Quit():
			return
		}
	}
}

// marshalEvent converts a ledger update into its websocket wire form.
func marshalEvent(update *ledger.PaymentUpdate) PaymentEvent {
	return PaymentEvent{
		Event: update.Kind.String(),
		Payment: marshalPayment(&ledger.LedgerEntry{
			PaymentRecord: update.Payment,
			Metadata:      update.Metadata,
		}),
	}
}
