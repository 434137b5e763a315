package netmon

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Subscription wraps one native change registration. Cancel is idempotent
// and exactly-once-effective, and is safe to call while a callback from the
// same source is still in flight on another goroutine.
type Subscription struct {
	op     string
	once   sync.Once
	cancel func()
}

func newSubscription(op string, cancel func()) *Subscription {
	return &Subscription{op: op, cancel: cancel}
}

// Op names the registration this subscription came from.
func (s *Subscription) Op() string { return s.op }

// Cancel releases the native registration. Only the first call has effect.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		log.WithField("op", s.op).Debug("Cancelling change subscription")
		s.cancel()
	})
}
