package queue

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrSendFailed is returned when a message couldn't be handed to a
// sender in any of the attempts.
var ErrSendFailed = errors.New("unable to send message")

// Backoff configures SendWithBackoff. Each attempt waits twice as long
// as the previous one for the sender to accept the message.
type Backoff struct {
	Tries   int
	Initial time.Duration
}

// DefaultBackoff waits 100ms, 200ms, 400ms, 800ms then 1.6s.
var DefaultBackoff = Backoff{
	Tries:   5,
	Initial: 100 * time.Millisecond,
}

// SendWithBackoff tries to send msg on ch, giving up after b.Tries
// attempts or when ctx is done.
func SendWithBackoff(ctx context.Context, ch chan<- []byte, msg []byte, b Backoff) error {
	wait := b.Initial

	for try := 1; try <= b.Tries; try++ {
		timer := time.NewTimer(wait)

		select {
		case ch <- msg:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		logger.WithFields(log.Fields{
			"try":  try,
			"wait": wait,
		}).Debug("send timed out")

		wait *= 2
	}

	return ErrSendFailed
}
