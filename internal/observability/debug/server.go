// Package debug serves the operational endpoints: liveness, recent digest
// cycle outcomes, and net/http/pprof. Intended for loopback binds only; it
// carries no auth.
package debug

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"digestbot/internal/eventbus"
	logx "digestbot/pkg/logx"
)

// historySize bounds the /statusz cycle ring.
const historySize = 64

type Config struct {
	Enabled bool
	Addr    string // default 127.0.0.1:6060
}

// cycleRecord is one /statusz entry.
type cycleRecord struct {
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
	Recipient string    `json:"recipient,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Chunks    int       `json:"chunks,omitempty"`
	Items     int       `json:"items,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Server is the debug HTTP listener. It subscribes to the cycle event bus and
// keeps a bounded in-memory history for /statusz.
type Server struct {
	cfg     Config
	bus     eventbus.Bus
	log     logx.Logger
	started time.Time

	mu      sync.Mutex
	history []cycleRecord
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6060"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, bus: bus, log: log, started: time.Now()}
}

// Run serves until ctx is canceled. Disabled config returns immediately.
func (s *Server) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}

	if s.bus != nil {
		events, unsub := s.bus.Subscribe(historySize)
		defer unsub()
		go s.record(ctx, events)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("debug.started", logx.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/statusz", s.statusz)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func (s *Server) statusz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	recent := append([]cycleRecord(nil), s.history...)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Uptime string        `json:"uptime"`
		Cycles []cycleRecord `json:"cycles"`
	}{
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Cycles: recent,
	})
}

func (s *Server) record(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ce, isCycle := e.Data.(eventbus.CycleEvent)
			if !isCycle {
				continue
			}
			rec := cycleRecord{
				Type:      e.Type,
				Time:      e.Time,
				Recipient: ce.Recipient,
				Tier:      ce.Tier,
				Chunks:    ce.Chunks,
				Items:     ce.Items,
				Error:     ce.Error,
			}
			if ce.Duration > 0 {
				rec.Duration = ce.Duration.String()
			}
			s.mu.Lock()
			s.history = append(s.history, rec)
			if len(s.history) > historySize {
				s.history = s.history[len(s.history)-historySize:]
			}
			s.mu.Unlock()
		}
	}
}
