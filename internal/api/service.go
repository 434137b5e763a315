package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netwatchd/internal/netaddr"
	"github.com/dmdmdm-nz/netwatchd/internal/netmon"
	"github.com/dmdmdm-nz/netwatchd/internal/runtime"
)

// Service is the HTTP/websocket surface: it streams network-changed events
// and serves a live interface-state snapshot for clients to re-query.
type Service struct {
	host string
	port int

	mu     sync.Mutex
	seq    uint64
	subs   map[string]*runtime.SignalQueue[Event]
	closed bool
}

func NewService(host string, port int) *Service {
	return &Service{
		host: host,
		port: port,
		subs: make(map[string]*runtime.SignalQueue[Event]),
	}
}

// AttachWatcher must be called before Start.
func (s *Service) AttachWatcher(w *netmon.Watcher) {
	w.Notify(s.broadcast)
}

func (s *Service) broadcast() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	ev := Event{Event: "network-changed", Seq: s.seq, At: time.Now().UTC()}
	queues := make([]*runtime.SignalQueue[Event], 0, len(s.subs))
	for _, q := range s.subs {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, q := range queues {
		q.Enqueue(ev)
	}
}

func (s *Service) subscribe(clientID string) *runtime.SignalQueue[Event] {
	q := runtime.NewSignalQueue[Event]()
	s.mu.Lock()
	s.subs[clientID] = q
	s.mu.Unlock()
	return q
}

func (s *Service) unsubscribe(clientID string) {
	s.mu.Lock()
	q, ok := s.subs[clientID]
	if ok {
		delete(s.subs, clientID)
	}
	s.mu.Unlock()
	if ok {
		q.Shutdown()
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/state", s.handleState)

	srv := &http.Server{
		Addr:    net.JoinHostPort(s.host, strconv.Itoa(s.port)),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Infof("Starting netwatchd API service at %s:%d", s.host, s.port)
	defer log.Info("Stopping netwatchd API service")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	queues := make([]*runtime.SignalQueue[Event], 0, len(s.subs))
	for id, q := range s.subs {
		queues = append(queues, q)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	for _, q := range queues {
		q.Shutdown()
	}
	return nil
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	interfaces, err := collectState()
	if err != nil {
		log.WithError(err).Error("Failed to collect interface state")
		http.Error(w, "failed to collect interface state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StateResponse{
		Interfaces: interfaces,
		At:         time.Now().UTC(),
	})
}

// collectState re-queries the live interface list and classifies every
// address.
func collectState() ([]InterfaceState, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]InterfaceState, 0, len(ifaces))
	for _, iface := range ifaces {
		info := InterfaceState{
			Name:  iface.Name,
			Index: iface.Index,
			Up:    iface.Flags&net.FlagUp != 0,
		}

		addrs, err := iface.Addrs()
		if err != nil {
			log.WithError(err).WithField("interface", iface.Name).Debug("Failed to list addresses")
			out = append(out, info)
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			sa, err := classify(ipNet)
			if err != nil {
				log.WithError(err).WithField("address", addr.String()).Debug("Skipping unclassifiable address")
				continue
			}
			info.Addresses = append(info.Addresses, AddressState{
				Address:   sa.IP().String(),
				Subnet:    sa.SubnetFirstIP().String(),
				Loopback:  sa.IsLoopback(),
				LinkLocal: sa.IsLinkLocal(),
				Multicast: sa.IsMulticast(),
			})
		}
		out = append(out, info)
	}
	return out, nil
}

func classify(ipNet *net.IPNet) (netaddr.SubnetAddress, error) {
	if ipNet.IP.To4() != nil {
		return netaddr.FromIPv4Mask(ipNet.IP, ipNet.Mask)
	}
	return netaddr.FromInterfaceIPv6(ipNet.IP)
}
