package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/mandelsoft/logging"
	"github.com/sethvargo/go-retry"

	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/query"
)

var ErrClosed = errors.New("client closed")

// Client is a channel forwarding queries and changes to a remote
// server. Requests are executed one at a time over a single
// connection. A request whose response got lost because of a broken
// connection is sent once more over a new connection, the server
// answers repeated sync requests from its history.
type Client struct {
	url     string
	dialer  ws.Dialer
	backoff func() retry.Backoff
	log     logging.Logger
	res     *metadata.Resolver

	lock   sync.Mutex
	conn   net.Conn
	closed bool
}

var _ channel.Channel = (*Client)(nil)

// Connect connects to a server and fetches its model.
func Connect(ctx context.Context, url string, opts ...Option) (*Client, error) {
	options := newOptions(opts)
	c := &Client{
		url:    url,
		dialer: ws.DefaultDialer,
		log:    options.logger.WithValues("server", url),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(options.retries, retry.NewFibonacci(options.retryDelay))
		},
	}
	if options.dialer != nil {
		c.dialer = *options.dialer
	}
	resp, err := c.call(ctx, &Request{Kind: KindModel})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.res, err = metadata.NewResolver(resp.Models...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("invalid model from %s: %w", url, err)
	}
	c.log.Info("connected, {{count}} entities", "count", len(c.res.Entities()))
	return c, nil
}

func (c *Client) Resolver() *metadata.Resolver {
	return c.res
}

func (c *Client) OnQuery(ctx context.Context, q *query.Query) (*channel.QueryResponse, error) {
	resp, err := c.call(ctx, &Request{Kind: KindQuery, Query: q})
	if err != nil {
		return nil, err
	}
	if resp.Query == nil {
		return &channel.QueryResponse{}, nil
	}
	return resp.Query, nil
}

func (c *Client) OnSync(ctx context.Context, req *channel.SyncRequest) (*channel.SyncResponse, error) {
	resp, err := c.call(ctx, &Request{Kind: KindSync, Sync: req})
	if err != nil {
		return nil, err
	}
	if resp.Sync == nil {
		return &channel.SyncResponse{}, nil
	}
	return resp.Sync, nil
}

func (c *Client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
	return c.drop()
}

func (c *Client) call(ctx context.Context, req *Request) (*Response, error) {
	req.Id = uuid.NewString()
	data, err := encode(req)
	if err != nil {
		return nil, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	for attempt := 0; ; attempt++ {
		resp, err := c.roundtrip(ctx, req.Id, data)
		if err == nil {
			if resp.Error != nil {
				return nil, resp.Error.Err()
			}
			return resp, nil
		}
		c.drop()
		if attempt > 0 || ctx.Err() != nil {
			return nil, err
		}
		c.log.Info("request {{request}} failed, resending", "request", req.Id, "error", err)
	}
}

func (c *Client) roundtrip(ctx context.Context, id string, data []byte) (*Response, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		return nil, err
	}
	for {
		msg, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			return nil, err
		}
		resp, err := decodeResponse(msg)
		if err != nil {
			return nil, err
		}
		if resp.Id == id {
			return resp, nil
		}
		if resp.Id == "" && resp.Error != nil {
			return nil, resp.Error.Err()
		}
		c.log.Debug("skipping stale response {{request}}", "request", resp.Id)
	}
}

// connection provides the current connection or dials a new one.
func (c *Client) connection(ctx context.Context) (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		conn, _, _, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			c.log.Debug("dial failed", "error", err)
			return retry.RetryableError(err)
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s: %w", c.url, err)
	}
	return c.conn, nil
}

func (c *Client) drop() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
