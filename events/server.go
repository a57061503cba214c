package events

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/queue"
)

// ErrServerShuttingDown is returned when an update is sent or a subscription
// is requested while the server is shutting down.
var ErrServerShuttingDown = errors.New("subscription server shutting down")

// Client is used to get notified about updates the caller has subscribed to.
type Client[T any] struct {
	// Cancel should be called in case the client no longer wants to
	// subscribe for updates from the server.
	Cancel func()

	updates *queue.ConcurrentQueue
	out     chan T
	done    chan struct{}
	quit    chan struct{}
}

// Updates returns a read-only channel where the updates the client
// subscribed to will be delivered.
func (c *Client[T]) Updates() <-chan T {
	return c.out
}

// Quit returns a channel where the client will be notified about the server
// starting shutdown.
func (c *Client[T]) Quit() <-chan struct{} {
	return c.quit
}

// Server is a struct that manages a set of subscriptions and their
// corresponding clients. Every update is delivered to all clients that were
// registered at the time the update was sent, each through its own buffered
// queue so a slow client never blocks the others.
type Server[T any] struct {
	clientCounter atomic.Uint64

	clients map[uint64]*Client[T]

	clientUpdates *queue.ConcurrentQueue
	updates       *queue.ConcurrentQueue

	quit chan struct{}

	started sync.Once
	stopped sync.Once
	wg      sync.WaitGroup
}

// clientUpdate is an internal message used to register or cancel a client.
type clientUpdate[T any] struct {
	// cancel is true when this request removes an existing client.
	cancel bool

	clientID uint64

	client *Client[T]

	// registered is closed once the client is part of the fan-out set,
	// making Subscribe synchronous: updates sent after it returns are
	// guaranteed to be delivered.
	registered chan struct{}
}

// NewServer returns a new subscription server.
func NewServer[T any]() *Server[T] {
	return &Server[T]{
		clients:       make(map[uint64]*Client[T]),
		clientUpdates: queue.NewConcurrentQueue(20),
		updates:       queue.NewConcurrentQueue(20),
		quit:          make(chan struct{}),
	}
}

// Start begins processing subscriptions and updates.
func (s *Server[T]) Start() error {
	s.started.Do(func() {
		s.clientUpdates.Start()
		s.updates.Start()

		s.wg.Add(1)
		go s.subscriptionHandler()
	})

	return nil
}

// Stop shuts down the server and cancels all active clients.
func (s *Server[T]) Stop() error {
	s.stopped.Do(func() {
		close(s.quit)
		s.wg.Wait()

		s.clientUpdates.Stop()
		s.updates.Stop()
	})

	return nil
}

// Subscribe returns a Client that will receive all updates sent to the
// server after registration.
func (s *Server[T]) Subscribe() (*Client[T], error) {
	clientID := s.clientCounter.Add(1)

	client := &Client[T]{
		updates: queue.NewConcurrentQueue(20),
		out:     make(chan T),
		done:    make(chan struct{}),
		quit:    s.quit,
	}
	client.Cancel = func() {
		select {
		case s.clientUpdates.ChanIn() <- &clientUpdate[T]{
			cancel:   true,
			clientID: clientID,
		}:
		case <-s.quit:
		}
	}

	registered := make(chan struct{})
	select {
	case s.clientUpdates.ChanIn() <- &clientUpdate[T]{
		clientID:   clientID,
		client:     client,
		registered: registered,
	}:
	case <-s.quit:
		return nil, ErrServerShuttingDown
	}

	select {
	case <-registered:
	case <-s.quit:
		return nil, ErrServerShuttingDown
	}

	return client, nil
}

// SendUpdate sends the passed update to all currently active clients.
func (s *Server[T]) SendUpdate(update T) error {
	select {
	case s.updates.ChanIn() <- update:
		return nil
	case <-s.quit:
		return ErrServerShuttingDown
	}
}

// subscriptionHandler is the main event loop of the server. It owns the
// client set, so registration, cancellation and fan-out never race.
func (s *Server[T]) subscriptionHandler() {
	defer s.wg.Done()

	for {
		select {
		case update := <-s.updates.ChanOut():
			for _, client := range s.clients {
				select {
				case client.updates.ChanIn() <- update:
				case <-s.quit:
					s.stopClients()
					return
				}
			}

		case update := <-s.clientUpdates.ChanOut():
			upd := update.(*clientUpdate[T])

			if upd.cancel {
				client, ok := s.clients[upd.clientID]
				if ok {
					close(client.done)
					client.updates.Stop()
					delete(s.clients, upd.clientID)
				}

				continue
			}

			upd.client.updates.Start()
			s.clients[upd.clientID] = upd.client

			s.wg.Add(1)
			go s.deliverUpdates(upd.client)

			close(upd.registered)

		case <-s.quit:
			s.stopClients()
			return
		}
	}
}

// stopClients stops the underlying queue of every registered client so their
// goroutines terminate alongside the server.
func (s *Server[T]) stopClients() {
	for _, client := range s.clients {
		client.updates.Stop()
	}
}

// deliverUpdates drains a single client's queue into its typed updates
// channel. One goroutine per client, so delivery to one client never blocks
// another.
func (s *Server[T]) deliverUpdates(client *Client[T]) {
	defer s.wg.Done()

	for {
		select {
		case raw := <-client.updates.ChanOut():
			update, ok := raw.(T)
			if !ok {
				continue
			}

			select {
			case client.out <- update:
			case <-client.done:
				return
			case <-s.quit:
				return
			}

		case <-client.done:
			return

		case <-s.quit:
			return
		}
	}
}
