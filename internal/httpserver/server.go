package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/monitoring"
)

const shutdownTimeout = 5 * time.Second

// Server is a restartable HTTP listener for one feature.
type Server struct {
	feature string
	addr    string
	handler http.Handler

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	done    chan struct{}
	running bool
}

func New(feature, addr string, handler http.Handler) *Server {
	return &Server{feature: feature, addr: addr, handler: handler}
}

// Start binds the listener and serves in the background. A bind failure is
// returned as a *casterr.FeatureError.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return casterr.Feature(s.feature, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("%s server error: %s", s.feature, err)
		}
	}()

	s.srv, s.ln, s.done, s.running = srv, ln, done, true
	log.Info("%s server listening on %s", s.feature, ln.Addr())
	return nil
}

// Stop shuts the server down. Hijacked connections (control sessions) are
// not tracked by the server and must be closed by their owner.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	srv, done := s.srv, s.done
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("%s server shutdown fail: %s", s.feature, err)
		_ = srv.Close()
	}
	<-done
	log.Info("%s server stopped", s.feature)
}

// Addr returns the bound address, nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LogMiddleware logs each request and records it in m.
func LogMiddleware(m *monitoring.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.CtxDebug(r.Context(), "HTTP request method=%s path=%s remote_addr=%s user_agent=%s",
				r.Method, r.URL.Path, r.RemoteAddr, r.UserAgent())

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			duration := time.Since(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordHTTPRequest(r.Method, status, duration)

			log.CtxDebug(r.Context(), "HTTP request completed method=%s path=%s status=%d duration=%s",
				r.Method, r.URL.Path, status, duration.String())
		})
	}
}
