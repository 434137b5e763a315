package netmon

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netwatchd/internal/runtime"
)

// DefaultQuietPeriod is the debounce window: a burst of raw notifications
// collapses into one network-changed event per quiet period of sustained
// churn, at the cost of up to one quiet period of delivery latency.
const DefaultQuietPeriod = 1000 * time.Millisecond

// token marks one raw notification. Only occurrence matters.
type token struct{}

// Config controls watcher construction. The zero value selects the
// platform facility, the default quiet period, and the platform DNS
// configuration path sets.
type Config struct {
	Facility    Facility
	QuietPeriod time.Duration

	// ConfigPaths is the full DNS-configuration path set;
	// ReducedConfigPaths is retried when the full set fails to register
	// (the IPv6 path may be absent on hosts without IPv6 support).
	ConfigPaths        []string
	ReducedConfigPaths []string
}

// Watcher owns the native change subscriptions, the signal queue and the
// consumer goroutine, and fires a debounced network-changed event.
type Watcher struct {
	queue *runtime.SignalQueue[token]
	quiet time.Duration

	mu       sync.Mutex
	handlers []Handler

	registrations []*Subscription

	consumerDone chan struct{}
	closeOnce    sync.Once
}

// NewWatcher registers all change sources and starts the consumer
// goroutine. Construction either fully succeeds or releases every
// subscription it acquired before returning the error.
func NewWatcher(cfg Config) (*Watcher, error) {
	if cfg.Facility == nil {
		cfg.Facility = NewFacility()
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}
	if cfg.ConfigPaths == nil {
		cfg.ConfigPaths = defaultConfigPaths
	}
	if cfg.ReducedConfigPaths == nil {
		cfg.ReducedConfigPaths = defaultConfigPathsReduced
	}

	w := &Watcher{
		queue:        runtime.NewSignalQueue[token](),
		quiet:        cfg.QuietPeriod,
		consumerDone: make(chan struct{}),
	}

	// The one stable callback every source gets: produce a token. No other
	// state is shared with the native callback threads.
	onSignal := func() { w.queue.Enqueue(token{}) }

	var acquired []*Subscription
	rollback := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Cancel()
		}
		w.queue.Shutdown()
	}

	registrations := []struct {
		op       string
		register func(func()) (*Subscription, error)
	}{
		{"interface change", cfg.Facility.NotifyInterfaceChange},
		{"address change", cfg.Facility.NotifyAddressChange},
		{"route change", cfg.Facility.NotifyRouteChange},
	}
	for _, r := range registrations {
		sub, err := r.register(onSignal)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("register %s notification: %w", r.op, err)
		}
		acquired = append(acquired, sub)
	}

	// DNS configuration watch: attempt the full path set, then once more
	// with the reduced set. The second attempt watches fewer paths, it is
	// not a retry of the same operation.
	sub, err := cfg.Facility.WatchConfig(cfg.ConfigPaths, true, onSignal)
	if err != nil {
		log.WithError(err).Debug("Full DNS configuration watch failed, retrying with reduced path set")
		sub, err = cfg.Facility.WatchConfig(cfg.ReducedConfigPaths, true, onSignal)
	}
	if err != nil {
		rollback()
		return nil, fmt.Errorf("register DNS configuration watch: %w", err)
	}
	acquired = append(acquired, sub)

	w.registrations = acquired
	go w.consume()

	log.WithField("quietPeriod", w.quiet).Info("Network change watcher started")
	return w, nil
}

// Notify registers a handler for the network-changed event. Handlers are
// invoked synchronously on the consumer goroutine in registration order.
func (w *Watcher) Notify(h Handler) {
	w.mu.Lock()
	w.handlers = append(w.handlers, h)
	w.mu.Unlock()
}

// consume is the debounce state machine: Idle until a token arrives, then
// Armed while tokens keep arriving within the quiet period, firing once the
// period elapses in silence. Queue shutdown terminates the loop.
func (w *Watcher) consume() {
	defer close(w.consumerDone)

	for {
		// Idle: block until something changes.
		if _, res := w.queue.Dequeue(runtime.Infinite); res == runtime.ShutDown {
			return
		}

		// Armed: every further token restarts the quiet timer.
		for {
			_, res := w.queue.Dequeue(w.quiet)
			if res == runtime.ShutDown {
				return
			}
			if res == runtime.TimedOut {
				w.fire()
				break
			}
		}
	}
}

func (w *Watcher) fire() {
	w.mu.Lock()
	handlers := make([]Handler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	log.Debug("Network change detected")
	for _, h := range handlers {
		deliver(h)
	}
}

// deliver shields the consumer loop from handler panics; a misbehaving
// handler is logged and dropped, never retried.
func deliver(h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Network change handler panicked")
		}
	}()
	h()
}

// Close tears the watcher down: queue shutdown, then subscription release,
// then consumer join. It is idempotent; no event fires once it begins.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.queue.Shutdown()
		for _, sub := range w.registrations {
			sub.Cancel()
		}
		<-w.consumerDone
		log.Info("Network change watcher stopped")
	})
	return nil
}
