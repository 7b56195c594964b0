package redisbridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mandelsoft/logging"
	"github.com/redis/go-redis/v9"

	"github.com/mandelsoft/objectgraph/pkg/snapshot"
)

var REALM = logging.DefineRealm("objectgraph/snapshot/redis", "cross process snapshot invalidation")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)

const DefaultChannel = "objectgraph.snapshots"

// Transport is the pub/sub mechanism used to exchange snapshot events.
type Transport interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe delivers received payloads until the context is done.
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// Bridge forwards local snapshot changes of a cache to peer processes
// and invalidates snapshots changed by peers.
type Bridge struct {
	cache     *snapshot.Cache
	transport Transport
	handler   snapshot.Handler

	lock   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cache *snapshot.Cache, t Transport) *Bridge {
	b := &Bridge{cache: cache, transport: t}
	b.handler = snapshot.HandlerFunc(b.publish)
	return b
}

// NewRedis creates a bridge using a redis channel.
func NewRedis(cache *snapshot.Cache, client redis.UniversalClient, channel ...string) *Bridge {
	return New(cache, NewRedisTransport(client, channel...))
}

// Start registers the bridge at the cache and starts
// receiving peer events.
func (b *Bridge) Start(ctx context.Context) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	ch, err := b.transport.Subscribe(ctx)
	if err != nil {
		cancel()
		return err
	}
	b.cancel = cancel
	b.done = make(chan struct{})
	b.cache.RegisterHandler(b.handler)
	go b.receive(ch, b.done)
	log.Info("snapshot bridge started for cache {{cache}}", "cache", b.cache.Name())
	return nil
}

func (b *Bridge) Stop() {
	b.lock.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.lock.Unlock()

	if cancel == nil {
		return
	}
	b.cache.UnregisterHandler(b.handler)
	cancel()
	<-done
}

func (b *Bridge) publish(e *snapshot.Event) {
	if e.Source != b.cache.Name() {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.LogError(err, "cannot marshal snapshot event")
		return
	}
	if err := b.transport.Publish(context.Background(), data); err != nil {
		log.LogError(err, "cannot publish snapshot event")
	}
}

func (b *Bridge) receive(ch <-chan []byte, done chan struct{}) {
	defer close(done)
	for data := range ch {
		var e snapshot.Event
		if err := json.Unmarshal(data, &e); err != nil {
			log.LogError(err, "invalid snapshot event")
			continue
		}
		if e.Source == b.cache.Name() {
			continue
		}
		ids := e.Ids()
		log.Debug("invalidating {{count}} snapshots changed by {{source}}", "count", len(ids), "source", e.Source)
		b.cache.InvalidateFrom(e.Source, ids...)
	}
}

////////////////////////////////////////////////////////////////////////////////

type redisTransport struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisTransport(client redis.UniversalClient, channel ...string) Transport {
	name := DefaultChannel
	if len(channel) > 0 && channel[0] != "" {
		name = channel[0]
	}
	return &redisTransport{client: client, channel: name}
}

func (t *redisTransport) Publish(ctx context.Context, payload []byte) error {
	return t.client.Publish(ctx, t.channel, payload).Err()
}

func (t *redisTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	sub := t.client.Subscribe(ctx, t.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case ch <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
