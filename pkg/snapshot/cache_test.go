package snapshot_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
)

func artist(id int, name string) *snapshot.Snapshot {
	return snapshot.New(oid.NewSingle("Artist", "ID", id), "Artist", map[string]any{"ID": id, "NAME": name}, 0)
}

var _ = Describe("snapshot cache", func() {
	var ctx context.Context
	var cache *snapshot.Cache

	BeforeEach(func() {
		ctx = context.Background()
		cache = snapshot.NewCache(10, "test")
	})

	It("keeps versions for unchanged rows", func() {
		s1 := Must(cache.Merge(ctx, artist(1, "Picasso")))[0]
		Expect(s1.Version()).NotTo(BeZero())

		s2 := Must(cache.Merge(ctx, artist(1, "Picasso")))[0]
		Expect(s2).To(BeIdenticalTo(s1))

		s3 := Must(cache.Merge(ctx, artist(1, "Dali")))[0]
		Expect(s3.Version()).To(BeNumerically(">", s1.Version()))
		Expect(cache.Get(oid.NewSingle("Artist", "ID", int64(1))).Get("NAME")).To(Equal("Dali"))
	})

	It("keeps snapshots written after a fetch started", func() {
		s := Must(cache.Merge(ctx, artist(1, "Picasso")))[0]
		mark := cache.Mark()

		g := Must(cache.Guard(ctx, s.Id()))
		n := g.Put(s.Merge(map[string]any{"NAME": "Dali"}, 0))
		g.Release()

		r := Must(cache.MergeFetched(ctx, mark, artist(1, "Picasso")))[0]
		Expect(r).To(BeIdenticalTo(cache.Get(s.Id())))
		Expect(r.Version()).To(Equal(n.Version()))
		Expect(r.Get("NAME")).To(Equal("Dali"))

		r = Must(cache.MergeFetched(ctx, cache.Mark(), artist(1, "Miro")))[0]
		Expect(r.Get("NAME")).To(Equal("Miro"))
		Expect(r.Version()).To(BeNumerically(">", n.Version()))
	})

	It("does not revive snapshots removed after a fetch started", func() {
		s := Must(cache.Merge(ctx, artist(1, "Picasso")))[0]
		mark := cache.Mark()

		g := Must(cache.Guard(ctx, s.Id()))
		g.Forget(s.Id())
		g.Release()

		r := Must(cache.MergeFetched(ctx, mark, artist(1, "Picasso")))[0]
		Expect(r.Get("NAME")).To(Equal("Picasso"))
		Expect(cache.Get(s.Id())).To(BeNil())

		Must(cache.MergeFetched(ctx, cache.Mark(), artist(1, "Picasso")))
		Expect(cache.Get(s.Id())).NotTo(BeNil())
	})

	It("detects version conflicts under guard", func() {
		s := Must(cache.Merge(ctx, artist(1, "Picasso")))[0]
		g := Must(cache.Guard(ctx, s.Id()))
		MustBeSuccessful(g.Check(s.Id(), s.Version()))
		n := g.Put(s.Merge(map[string]any{"NAME": "Dali"}, 0))
		g.Release()

		Expect(n.Version()).To(BeNumerically(">", s.Version()))
		g = Must(cache.Guard(ctx, s.Id()))
		defer g.Release()
		Expect(g.Check(s.Id(), s.Version())).To(MatchError(snapshot.ErrVersionConflict))
		MustBeSuccessful(g.Check(oid.NewSingle("Artist", "ID", 2), 17))
	})

	It("serializes guards per identity", func() {
		s := Must(cache.Merge(ctx, artist(1, "Picasso")))[0]
		g := Must(cache.Guard(ctx, s.Id()))

		acquired := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			g2 := Must(cache.Guard(ctx, s.Id()))
			close(acquired)
			g2.Release()
		}()
		Consistently(acquired, 50*time.Millisecond).ShouldNot(BeClosed())
		g.Release()
		Eventually(acquired).Should(BeClosed())
	})

	It("does not lose concurrent version bumps", func() {
		s := Must(cache.Merge(ctx, artist(1, "Picasso")))[0]
		wg := sync.WaitGroup{}
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				g := Must(cache.Guard(ctx, s.Id()))
				cur := cache.Get(s.Id())
				g.Put(cur.Merge(map[string]any{"COUNT": toInt(cur.Get("COUNT")) + 1}, 0))
				g.Release()
			}()
		}
		wg.Wait()
		Expect(cache.Get(s.Id()).Get("COUNT")).To(Equal(int64(20)))
	})

	It("evicts least recently used snapshots", func() {
		for i := 0; i < 15; i++ {
			Must(cache.Merge(ctx, artist(i, "a")))
		}
		Expect(cache.Len()).To(Equal(10))
		Expect(cache.Get(oid.NewSingle("Artist", "ID", 0))).To(BeNil())
		Expect(cache.Get(oid.NewSingle("Artist", "ID", 14))).NotTo(BeNil())
		cache.Clear()
		Expect(cache.Len()).To(Equal(0))
	})

	It("notifies handlers per entity", func() {
		var all, artists []*snapshot.Event
		cache.RegisterHandler(snapshot.HandlerFunc(func(e *snapshot.Event) { all = append(all, e) }))
		cache.RegisterHandler(snapshot.HandlerFunc(func(e *snapshot.Event) { artists = append(artists, e) }), "Artist")

		a := Must(cache.Merge(ctx, artist(1, "Picasso")))[0]
		p := snapshot.New(oid.NewSingle("Painting", "ID", 1), "Painting", map[string]any{"ID": 1}, 0)
		g := Must(cache.Guard(ctx, a.Id(), p.Id()))
		g.Put(a.Merge(map[string]any{"NAME": "Dali"}, 0))
		g.Forget(p.Id())
		g.Release()

		Expect(all).To(HaveLen(2))
		Expect(artists).To(HaveLen(1))
		Expect(artists[0].Source).To(Equal("test"))
		Expect(artists[0].Updated[0].Equal(a.Id())).To(BeTrue())

		cache.Invalidate(a.Id())
		Expect(artists).To(HaveLen(2))
		Expect(artists[1].Invalidated).To(HaveLen(1))
		Expect(cache.Get(a.Id())).To(BeNil())
	})

	It("serializes snapshots", func() {
		s := artist(3, "Miro").WithVersion(5)
		var r snapshot.Snapshot
		MustBeSuccessful(json.Unmarshal(Must(json.Marshal(s)), &r))
		Expect(r.Id().Equal(s.Id())).To(BeTrue())
		Expect(r.Version()).To(Equal(uint64(5)))
		Expect(r.Get("ID")).To(Equal(int64(3)))
		Expect(r.SameValues(s.Values())).To(BeTrue())
	})
})

func toInt(v any) int64 {
	if v == nil {
		return 0
	}
	return v.(int64)
}
