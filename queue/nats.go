// Package queue moves events and job statuses between the api-server and
// runlets over NATS.
package queue

import (
	"sync"

	nats "github.com/nats-io/go-nats"
	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

// Subjects used on the bus.
const (
	// SubjectEvents carries webhook events the api-server accepted.
	SubjectEvents = "events"
	// SubjectStatuses carries terminal job statuses from runlets.
	SubjectStatuses = "statuses"
)

func init() {
	logger = log.WithFields(log.Fields{
		"package": "queue",
	})
}

// NATS is a message bus backed by a NATS connection. Senders and
// receivers are plain channels so that consumers don't need to know
// about NATS at all.
type NATS struct {
	conn *nats.Conn

	mu      sync.Mutex
	senders []chan []byte
	subs    []*nats.Subscription
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewNATS connects to the NATS server at url.
func NewNATS(url string) (*NATS, error) {
	logger := logger.WithField("url", url)
	logger.Debug("connecting to NATS")

	conn, err := nats.Connect(url)
	if err != nil {
		logger.WithError(err).Debug("unable to connect to NATS")
		return nil, err
	}

	return &NATS{conn: conn, done: make(chan struct{})}, nil
}

// SenderOn returns a channel whose messages are published on subject.
// The channel is closed by Close.
func (n *NATS) SenderOn(subject string) chan<- []byte {
	ch := make(chan []byte)

	n.mu.Lock()
	n.senders = append(n.senders, ch)
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		logger := logger.WithField("subject", subject)
		for msg := range ch {
			if err := n.conn.Publish(subject, msg); err != nil {
				logger.WithError(err).Error("unable to publish message")
				continue
			}

			logger.Debug("message published")
		}
	}()

	return ch
}

// ReceiverOn subscribes to subject and returns a channel of the
// payloads received on it.
func (n *NATS) ReceiverOn(subject string) (<-chan []byte, error) {
	msgs := make(chan *nats.Msg, 64)

	sub, err := n.conn.ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)

		for {
			select {
			case msg := <-msgs:
				select {
				case out <- msg.Data:
				case <-n.done:
					return
				}
			case <-n.done:
				return
			}
		}
	}()

	return out, nil
}

// Close stops all senders, flushing what they were given, then
// unsubscribes all receivers and closes the connection. Receiver
// channels are closed once their subscription is gone.
func (n *NATS) Close() {
	n.mu.Lock()
	for _, ch := range n.senders {
		close(ch)
	}
	n.senders = nil
	n.mu.Unlock()

	n.wg.Wait()

	if err := n.conn.Flush(); err != nil {
		logger.WithError(err).Warn("unable to flush NATS connection")
	}

	n.mu.Lock()
	for _, sub := range n.subs {
		if err := sub.Unsubscribe(); err != nil {
			logger.WithError(err).Warn("unable to unsubscribe")
		}
	}
	n.subs = nil
	n.mu.Unlock()

	close(n.done)
	n.conn.Close()
}
