package remote

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/mandelsoft/goutils/sliceutils"

	"github.com/mandelsoft/objectgraph/pkg/snapshot"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// WatchRequest registers a watch for snapshot changes of the given
// root entities, all entities if none is given.
type WatchRequest struct {
	Entities []string `json:"entities,omitempty"`
}

type WatchError struct {
	Error string `json:"error"`
}

// WatchHandler streams snapshot change events of a cache to
// websocket clients.
type WatchHandler struct {
	cache *snapshot.Cache

	lock     sync.Mutex
	watchers []*watcher
}

var _ http.Handler = (*WatchHandler)(nil)

func NewWatchHandler(cache *snapshot.Cache) *WatchHandler {
	return &WatchHandler{cache: cache}
}

func (h *WatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.LogError(err, "upgrading watch connection")
		return
	}

	msg, op, err := wsutil.ReadClientData(conn)
	if err != nil {
		log.LogError(err, "reading watch request")
		conn.Close()
		return
	}
	var req WatchRequest
	if err := decode(msg, &req); err != nil {
		log.LogError(err, "decoding watch request")
		data, _ := json.Marshal(&WatchError{err.Error()})
		wsutil.WriteServerMessage(conn, op, data)
		conn.Close()
		return
	}

	wt := &watcher{handler: h, conn: conn, req: req}
	log.Info("registering watch for {{entities}}", "entities", req.Entities)
	h.cache.RegisterHandler(wt, req.Entities...)
	h.lock.Lock()
	h.watchers = append(h.watchers, wt)
	h.lock.Unlock()

	go wt.drain()
}

func (h *WatchHandler) Watchers() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.watchers)
}

func (h *WatchHandler) remove(wt *watcher) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.watchers = sliceutils.Filter(h.watchers, func(e *watcher) bool { return e != wt })
}

// Close closes all watch connections.
func (h *WatchHandler) Close() error {
	h.lock.Lock()
	list := slices.Clone(h.watchers)
	h.lock.Unlock()

	for _, wt := range list {
		wt.Close()
	}
	return nil
}

type watcher struct {
	handler *WatchHandler
	conn    net.Conn
	req     WatchRequest

	lock   sync.Mutex
	closed bool
}

func (w *watcher) HandleEvent(e *snapshot.Event) {
	data, _ := json.Marshal(e)
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.closed {
		return
	}
	log.Debug("sending watch event {{event}}", "event", e.Ids())
	if err := wsutil.WriteServerMessage(w.conn, ws.OpText, data); err != nil {
		log.LogError(err, "cannot send event, closing watch")
		go w.Close()
	}
}

// drain consumes control frames until the client disconnects.
func (w *watcher) drain() {
	for {
		if _, _, err := wsutil.ReadClientData(w.conn); err != nil {
			w.Close()
			return
		}
	}
}

func (w *watcher) Close() error {
	w.lock.Lock()
	if w.closed {
		w.lock.Unlock()
		return nil
	}
	w.closed = true
	w.lock.Unlock()

	log.Info("closing watch for {{entities}}", "entities", w.req.Entities)
	w.handler.cache.UnregisterHandler(w, w.req.Entities...)
	w.handler.remove(w)
	return w.conn.Close()
}

////////////////////////////////////////////////////////////////////////////////

// Syncher waits for the end of a watch.
type Syncher interface {
	Wait() error
}

type syncher struct {
	wait sync.WaitGroup
	err  error
}

func (s *syncher) Wait() error {
	s.wait.Wait()
	return s.err
}

// Watch registers a watch at a server and calls the handler for all
// received events until the context is cancelled or the connection
// is closed.
func Watch(ctx context.Context, url string, req WatchRequest, h snapshot.Handler, opts ...Option) (Syncher, error) {
	options := newOptions(opts)
	dialer := ws.DefaultDialer
	if options.dialer != nil {
		dialer = *options.dialer
	}
	conn, _, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	data, _ := json.Marshal(req)
	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		conn.Close()
		return nil, err
	}

	s := &syncher{}
	s.wait.Add(1)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer s.wait.Done()
		defer close(done)
		defer conn.Close()
		for {
			msg, _, err := wsutil.ReadServerData(conn)
			if err != nil {
				if !utils.IsErrClosed(err) && ctx.Err() == nil {
					s.err = err
				}
				return
			}
			var e snapshot.Event
			if err := decode(msg, &e); err != nil {
				s.err = err
				return
			}
			h.HandleEvent(&e)
		}
	}()
	return s, nil
}
