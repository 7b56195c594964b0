package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/mandelsoft/objectgraph/pkg/testutils"

	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/graph"
	"github.com/mandelsoft/objectgraph/pkg/objectbase"
	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/query"
	"github.com/mandelsoft/objectgraph/pkg/remote"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/store/memory"
)

var ctx = context.Background()

func create(c *objectcontext.Context, entity string, attrs ...any) *persistent.Object {
	o := Must(c.NewObject(ctx, entity))
	for i := 0; i+1 < len(attrs); i += 2 {
		MustBeSuccessful(o.Write(ctx, attrs[i].(string), attrs[i+1]))
	}
	return o
}

func selectOne(c *objectcontext.Context, entity, attr string, value any) *persistent.Object {
	list := Must(c.Select(ctx, entity, expr.Eq(attr, value)))
	if len(list) != 1 {
		return nil
	}
	return list[0]
}

type events struct {
	lock sync.Mutex
	list []*snapshot.Event
}

func (e *events) HandleEvent(evt *snapshot.Event) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.list = append(e.list, evt)
}

func (e *events) Get() []*snapshot.Event {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]*snapshot.Event(nil), e.list...)
}

var _ = Describe("remote object base", func() {
	var (
		st     *memory.Store
		ob     *objectbase.ObjectBase
		srv    *remote.Server
		watch  *remote.WatchHandler
		hs     *httptest.Server
		url    string
		client *remote.Client
	)

	BeforeEach(func() {
		res := ArtResolver()
		st = memory.New(Must(store.SchemaFor(res)))
		ob = objectbase.New(res, st)
		srv = remote.NewServer(ob)
		watch = remote.NewWatchHandler(ob.Cache())
		mux := http.NewServeMux()
		mux.Handle("/objects", srv)
		mux.Handle("/watch", watch)
		hs = httptest.NewServer(mux)
		url = "ws" + strings.TrimPrefix(hs.URL, "http")
		client = Must(remote.Connect(ctx, url+"/objects", remote.WithRetries(3, 10*time.Millisecond)))
	})

	AfterEach(func() {
		client.Close()
		srv.Close()
		watch.Close()
		hs.Close()
	})

	It("provides the model", func() {
		Expect(client.Resolver().Entities()).To(ConsistOf(ob.Resolver().Entities()))
		d := Must(client.Resolver().Descriptor("Sculpture"))
		Expect(d.Root).To(Equal("Painting"))
	})

	It("commits through the server", func() {
		c := objectcontext.New(client)
		a := create(c, "Artist", "name", "Monet", "birthYear", 1840)
		p := create(c, "Painting", "title", "Poppies", "price", 12.5)
		MustBeSuccessful(a.AddToMany(ctx, "paintings", p))
		MustBeSuccessful(c.CommitChanges(ctx))
		Expect(a.Id().IsTemporary()).To(BeFalse())
		Expect(a.Id().Value("ID")).To(Equal(int64(1)))

		Expect(st.Rows("ARTIST")).To(HaveLen(1))
		Expect(st.Rows("ARTIST")[0]["BIRTH_YEAR"]).To(Equal(int64(1840)))
		Expect(st.Rows("PAINTING")[0]["ARTIST_ID"]).To(Equal(int64(1)))

		r := objectcontext.New(client)
		artist := selectOne(r, "Artist", "birthYear", 1840)
		Expect(artist).NotTo(BeNil())
		Expect(artist.Id().Equal(a.Id())).To(BeTrue())
		paintings := Must(artist.ToMany(ctx, "paintings"))
		Expect(paintings).To(HaveLen(1))
		Expect(paintings[0].Read(ctx, "price")).To(Equal(12.5))
		Expect(paintings[0].ToOne(ctx, "artist")).To(BeIdenticalTo(artist))
	})

	It("transports typed errors", func() {
		c := objectcontext.New(client)
		create(c, "Artist", "name", "Monet")
		MustBeSuccessful(c.CommitChanges(ctx))

		c1 := objectcontext.New(client)
		c2 := objectcontext.New(client)
		a1 := selectOne(c1, "Artist", "name", "Monet")
		a2 := selectOne(c2, "Artist", "name", "Monet")
		MustBeSuccessful(a1.Write(ctx, "birthYear", 1840))
		MustBeSuccessful(c1.CommitChanges(ctx))
		MustBeSuccessful(a2.Write(ctx, "birthYear", 1841))

		err := c2.CommitChanges(ctx)
		var ol *persistent.OptimisticLockError
		Expect(errors.As(err, &ol)).To(BeTrue())
		Expect(ol.Entity).To(Equal("Artist"))
		Expect(ol.Id.Equal(a2.Id())).To(BeTrue())
		Expect(ol.Values).To(HaveKeyWithValue("BIRTH_YEAR", int64(1841)))

		gone := oid.NewSingle("Painting", "ID", 42)
		_, err = client.OnQuery(ctx, query.ForRelationship(gone, "Painting", "artist"))
		var ff *persistent.FaultFailureError
		Expect(errors.As(err, &ff)).To(BeTrue())
		Expect(ff.Id.Equal(gone)).To(BeTrue())
	})

	It("applies repeated sync requests once", func() {
		id := oid.NewTemporary("Artist")
		req := &remote.Request{
			Id:   "sync-1",
			Kind: remote.KindSync,
			Sync: &channel.SyncRequest{
				Type: channel.Commit,
				Diff: graph.NewDiff(
					graph.Change{Type: graph.NodeCreated, Node: id, Entity: "Artist"},
					graph.Change{Type: graph.PropertyChanged, Node: id, Property: "name", New: "Monet"},
				),
			},
		}
		r1 := srv.Handle(ctx, req)
		Expect(r1.Error).To(BeNil())
		Expect(r1.Sync.Replacements).To(HaveLen(1))

		r2 := srv.Handle(ctx, req)
		Expect(r2).To(BeIdenticalTo(r1))
		Expect(st.Rows("ARTIST")).To(HaveLen(1))

		req.Id = "sync-2"
		Expect(srv.Handle(ctx, req).Sync.Replacements).To(HaveLen(1))
		Expect(st.Rows("ARTIST")).To(HaveLen(2))
	})

	It("rejects invalid requests", func() {
		r := srv.Handle(ctx, &remote.Request{Id: "x", Kind: "unknown"})
		Expect(r.Error).NotTo(BeNil())
		Expect(r.Error.Kind).To(Equal(persistent.KindGeneric))

		r = srv.Handle(ctx, &remote.Request{Id: "y", Kind: remote.KindQuery})
		Expect(r.Error).NotTo(BeNil())
	})

	It("reconnects after a broken connection", func() {
		c := objectcontext.New(client)
		create(c, "Artist", "name", "Monet")
		MustBeSuccessful(c.CommitChanges(ctx))

		MustBeSuccessful(srv.Close())
		list := Must(objectcontext.New(client).Select(ctx, "Artist", nil))
		Expect(list).To(HaveLen(1))
	})

	It("fails for closed clients", func() {
		MustBeSuccessful(client.Close())
		_, err := client.OnQuery(ctx, query.Select("Artist", nil).Query())
		Expect(err).To(MatchError(remote.ErrClosed))
	})

	It("streams snapshot events", func() {
		received := &events{}
		wctx, cancel := context.WithCancel(ctx)
		s := Must(remote.Watch(wctx, url+"/watch", remote.WatchRequest{Entities: []string{"Artist"}}, received))
		Eventually(watch.Watchers).Should(Equal(1))

		c := objectcontext.New(client)
		a := create(c, "Artist", "name", "Monet")
		create(c, "Gallery", "name", "Orangerie")
		MustBeSuccessful(c.CommitChanges(ctx))

		Eventually(func() int { return len(received.Get()) }).Should(Equal(1))
		e := received.Get()[0]
		Expect(e.Updated).To(HaveLen(1))
		Expect(e.Updated[0].Equal(a.Id())).To(BeTrue())
		Expect(e.Source).To(Equal(ob.Cache().Name()))

		cancel()
		MustBeSuccessful(s.Wait())
		Eventually(watch.Watchers).Should(Equal(0))
	})
})
