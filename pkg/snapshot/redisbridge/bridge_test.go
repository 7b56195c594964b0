package redisbridge_test

import (
	"context"
	"sync"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
	"github.com/mandelsoft/objectgraph/pkg/snapshot/redisbridge"
)

// bus is an in-process pub/sub used instead of a redis server.
type bus struct {
	lock        sync.Mutex
	subscribers []chan []byte
}

func (b *bus) Publish(ctx context.Context, payload []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, s := range b.subscribers {
		s <- payload
	}
	return nil
}

func (b *bus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	ch := make(chan []byte, 100)
	b.subscribers = append(b.subscribers, ch)
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-ch:
				out <- d
			}
		}
	}()
	return out, nil
}

var _ = Describe("redis bridge", func() {
	It("invalidates snapshots changed by peers", func() {
		ctx := context.Background()
		b := &bus{}
		c1 := snapshot.NewCache(0, "one")
		c2 := snapshot.NewCache(0, "two")
		b1 := redisbridge.New(c1, b)
		b2 := redisbridge.New(c2, b)
		MustBeSuccessful(b1.Start(ctx))
		MustBeSuccessful(b2.Start(ctx))
		defer b1.Stop()
		defer b2.Stop()

		id := oid.NewSingle("Artist", "ID", 1)
		row := snapshot.New(id, "Artist", map[string]any{"ID": 1, "NAME": "Picasso"}, 0)
		Must(c1.Merge(ctx, row))
		Must(c2.Merge(ctx, row))

		g := Must(c1.Guard(ctx, id))
		g.Put(row.Merge(map[string]any{"NAME": "Dali"}, 0))
		g.Release()

		Eventually(func() *snapshot.Snapshot { return c2.Get(id) }).Should(BeNil())
		Expect(c1.Get(id)).NotTo(BeNil())
	})
})
