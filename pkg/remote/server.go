package remote

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mandelsoft/goutils/sliceutils"
	"github.com/mandelsoft/logging"
	"golang.org/x/sync/singleflight"

	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// Server serves a channel to remote clients via websocket
// connections. Every connection carries a sequence of requests,
// each answered by a response with the same id.
type Server struct {
	base      channel.Channel
	log       logging.Logger
	completed *lru.Cache[string, *Response]
	inflight  singleflight.Group

	lock        sync.Mutex
	connections []net.Conn
}

var _ http.Handler = (*Server)(nil)

func NewServer(base channel.Channel, opts ...Option) *Server {
	options := newOptions(opts)
	completed, err := lru.New[string, *Response](options.historySize)
	if err != nil {
		panic(err)
	}
	return &Server{
		base:      base,
		log:       options.logger,
		completed: completed,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.LogError(err, "upgrading connection from {{remote}}", "remote", r.RemoteAddr)
		return
	}
	s.log.Info("new connection from {{remote}}", "remote", r.RemoteAddr)
	s.add(conn)
	defer s.remove(conn)
	s.serve(context.Background(), conn)
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			if !utils.IsErrClosed(err) {
				s.log.LogError(err, "reading request")
			}
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		var resp *Response
		req, err := decodeRequest(data)
		if err != nil {
			resp = errorResponse("", err)
		} else {
			resp = s.Handle(ctx, req)
		}
		out, err := encode(resp)
		if err != nil {
			out, _ = encode(errorResponse(resp.Id, err))
		}
		if err := wsutil.WriteServerMessage(conn, op, out); err != nil {
			s.log.LogError(err, "cannot send response for {{request}}", "request", resp.Id)
			return
		}
	}
}

// Handle executes a single request.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	if err := req.Validate(); err != nil {
		return errorResponse(req.Id, err)
	}
	s.log.Debug("handling {{kind}} request {{request}}", "kind", req.Kind, "request", req.Id)
	switch req.Kind {
	case KindModel:
		return &Response{Id: req.Id, Models: s.base.Resolver().Models()}
	case KindQuery:
		resp, err := s.base.OnQuery(ctx, req.Query)
		if err != nil {
			return errorResponse(req.Id, err)
		}
		return &Response{Id: req.Id, Query: resp}
	default:
		return s.sync(ctx, req)
	}
}

// sync applies a sync request at most once. The response of a
// completed request is kept and returned for repeated requests.
func (s *Server) sync(ctx context.Context, req *Request) *Response {
	if r, ok := s.completed.Get(req.Id); ok {
		s.log.Info("repeated sync request {{request}}", "request", req.Id)
		return r
	}
	v, _, _ := s.inflight.Do(req.Id, func() (any, error) {
		if r, ok := s.completed.Get(req.Id); ok {
			return r, nil
		}
		resp, err := s.base.OnSync(ctx, req.Sync)
		r := &Response{Id: req.Id, Sync: resp}
		if err != nil {
			s.log.Info("sync request {{request}} failed", "request", req.Id, "error", err)
			r = errorResponse(req.Id, err)
		}
		s.completed.Add(req.Id, r)
		return r, nil
	})
	return v.(*Response)
}

func (s *Server) add(conn net.Conn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.connections = append(s.connections, conn)
}

func (s *Server) remove(conn net.Conn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.connections = sliceutils.Filter(s.connections, func(c net.Conn) bool { return c != conn })
	conn.Close()
}

// Close closes all open connections.
func (s *Server) Close() error {
	s.lock.Lock()
	conns := slices.Clone(s.connections)
	s.lock.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil && !utils.IsErrClosed(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
