package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mandelsoft/goutils/general"

	"github.com/mandelsoft/objectgraph/pkg/service"
)

const DefaultShutdownTimeout = 5 * time.Second

// Server hosts the HTTP endpoints of an object server.
// It can be used as service.Service.
type Server struct {
	*http.Server
	*http.ServeMux

	lock            sync.Mutex
	listener        net.Listener
	shutdownTimeout time.Duration
	done            service.Syncher
}

var _ service.Service = (*Server)(nil)

// NewServer creates a server for the given port. Port 0 chooses
// a free port. With def the handlers of the default mux are served, too.
func NewServer(port int, def bool, shutdownTimeout ...time.Duration) *Server {
	mux := http.NewServeMux()
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if def {
		mux.Handle("/", default_mux)
	}
	return &Server{
		Server:          server,
		ServeMux:        mux,
		shutdownTimeout: general.OptionalDefaulted(DefaultShutdownTimeout, shutdownTimeout...),
	}
}

// Addr provides the address the server is listening on after it
// has been started.
func (s *Server) Addr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL provides the base URL for the given scheme (http or ws).
func (s *Server) URL(scheme string) string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	port := addr.(*net.TCPAddr).Port
	return fmt.Sprintf("%s://localhost:%d", scheme, port)
}

func (s *Server) Start(ctx context.Context) (service.Syncher, service.Syncher, error) {
	l, err := net.Listen("tcp", s.Server.Addr)
	if err != nil {
		return nil, nil, err
	}
	s.lock.Lock()
	s.listener = l
	s.lock.Unlock()

	log.Info("listening on {{addr}}", "addr", l.Addr())
	wg := &sync.WaitGroup{}
	wg.Add(1)
	s.done = service.Sync(wg)
	go func() {
		defer wg.Done()
		s.done.SetError(s.serveContext(ctx, l, "", ""))
	}()
	return nil, s.done, nil
}

func (s *Server) Wait() error {
	if s.done == nil {
		return fmt.Errorf("server not started")
	}
	return s.done.Wait()
}

func (s *Server) ListenAndServeContext(ctx context.Context) error {
	return s.ListenAndServeTLSContext(ctx, "", "")
}

func (s *Server) ListenAndServeTLSContext(ctx context.Context, certFile, keyFile string) error {
	l, err := net.Listen("tcp", s.Server.Addr)
	if err != nil {
		return err
	}
	s.lock.Lock()
	s.listener = l
	s.lock.Unlock()
	return s.serveContext(ctx, l, certFile, keyFile)
}

func (s *Server) serveContext(ctx context.Context, l net.Listener, certFile, keyFile string) error {
	serverErr := make(chan error, 1)
	go func() {
		// Shutdown causes Serve to return http.ErrServerClosed.
		if certFile != "" && keyFile != "" {
			serverErr <- s.ServeTLS(l, certFile, keyFile)
		} else {
			serverErr <- s.Serve(l)
		}
	}()
	var err error
	select {
	case <-ctx.Done():
		log.Info("shutting down server on {{addr}}", "addr", l.Addr())
		sctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		err = s.Shutdown(sctx)
	case err = <-serverErr:
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
