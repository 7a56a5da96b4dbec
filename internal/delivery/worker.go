package delivery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keepmind9/neb/internal/logger"
	"github.com/keepmind9/neb/internal/matrix"
	"github.com/keepmind9/neb/pkg/constants"
)

// Sender delivers one message. matrix.Session satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, roomID string, content map[string]any) error
}

// Backoff grows linearly from Initial by Increment up to Max
type Backoff struct {
	Initial   time.Duration
	Increment time.Duration
	Max       time.Duration

	current time.Duration
}

// DefaultBackoff waits 5s, then 10s, 15s and so on up to 5 minutes
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:   constants.DeliveryInitialBackoff,
		Increment: constants.DeliveryBackoffIncrement,
		Max:       constants.DeliveryMaxBackoff,
	}
}

// Next returns the wait before the next attempt and advances the backoff
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Initial
	} else {
		b.current += b.Increment
	}
	if b.Max > 0 && b.current > b.Max {
		b.current = b.Max
	}
	return b.current
}

// Reset starts the next failure streak from Initial
func (b *Backoff) Reset() {
	b.current = 0
}

// Worker drains a Queue through a Sender. Run it on its own goroutine.
type Worker struct {
	name    string
	queue   *Queue
	sender  Sender
	backoff Backoff
}

// NewWorker creates a worker; name tags its log lines
func NewWorker(name string, queue *Queue, sender Sender, backoff Backoff) *Worker {
	return &Worker{
		name:    name,
		queue:   queue,
		sender:  sender,
		backoff: backoff,
	}
}

// Run delivers until ctx is cancelled. Messages the server rejects as
// permanently invalid are logged and dropped; every other failure puts the
// message back at its original priority and waits out the backoff.
func (w *Worker) Run(ctx context.Context) error {
	log := logger.WithField("worker", w.name)
	log.Info("delivery-worker-started")

	for {
		m, ok := w.queue.Pop(ctx)
		if !ok {
			log.Info("delivery-worker-stopped")
			return nil
		}

		err := w.sender.SendMessage(ctx, m.RoomID, m.Content)
		if err == nil {
			w.backoff.Reset()
			continue
		}

		fields := logrus.Fields{
			"room_id":  m.RoomID,
			"priority": m.Priority,
			"error":    err,
		}
		if matrix.IsPermanent(err) {
			log.WithFields(fields).Error("delivery-rejected-dropping-message")
			continue
		}

		w.queue.Requeue(m)
		if ctx.Err() != nil {
			return nil
		}

		wait := w.backoff.Next()
		fields["retry_in"] = wait.String()
		log.WithFields(fields).Warn("delivery-failed-will-retry")

		select {
		case <-ctx.Done():
			log.Info("delivery-worker-stopped")
			return nil
		case <-time.After(wait):
		}
	}
}
