package app_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/mandelsoft/vfs/pkg/vfs"
	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/mandelsoft/objectgraph/pkg/testutils"

	"github.com/mandelsoft/objectgraph/cmds/ogctl/app"
	"github.com/mandelsoft/objectgraph/pkg/objectbase"
	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/remote"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/store/memory"
)

var ctx = context.Background()

type buffer struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (b *buffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *buffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}

var _ = Describe("ogctl", func() {
	var fs vfs.FileSystem
	var base *objectbase.ObjectBase
	var httpsrv *httptest.Server
	var objects *remote.Server
	var watch *remote.WatchHandler
	var out *buffer

	run := func(args ...string) error {
		cmd := app.New(fs)
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(append([]string{"--server", httpsrv.URL}, args...))
		return cmd.ExecuteContext(ctx)
	}

	BeforeEach(func() {
		fs = Must(TestFileSystem(map[string]string{"models/art.yaml": ArtModelYAML}))
		res := ArtResolver()
		base = objectbase.New(res, memory.New(Must(store.SchemaFor(res))))
		objects = remote.NewServer(base)
		watch = remote.NewWatchHandler(base.Cache())
		mux := http.NewServeMux()
		mux.Handle("/objects", objects)
		mux.Handle("/watch", watch)
		httpsrv = httptest.NewServer(mux)
		out = &buffer{}

		oc := objectcontext.New(base)
		a := Must(oc.NewObject(ctx, "Artist"))
		MustBeSuccessful(a.Write(ctx, "name", "Monet"))
		MustBeSuccessful(a.Write(ctx, "birthYear", 1840))
		p := Must(oc.NewObject(ctx, "Sculpture"))
		MustBeSuccessful(p.Write(ctx, "title", "Balzac"))
		MustBeSuccessful(p.SetToOne(ctx, "artist", a))
		MustBeSuccessful(oc.CommitChanges(ctx))
	})

	AfterEach(func() {
		watch.Close()
		objects.Close()
		httpsrv.Close()
	})

	Context("model", func() {
		It("checks models", func() {
			MustBeSuccessful(run("model", "check", "models"))
			Expect(out.String()).To(ContainSubstring("Sculpture: table PAINTING, key ID (generated), super Painting\n"))
			Expect(out.String()).To(HaveSuffix("model ok\n"))
		})

		It("renders ddl", func() {
			MustBeSuccessful(run("model", "ddl", "models/art.yaml", "--driver", "postgres"))
			Expect(out.String()).To(ContainSubstring(`CREATE TABLE IF NOT EXISTS "ARTIST"`))
			Expect(out.String()).To(ContainSubstring(`"ID" BIGSERIAL PRIMARY KEY`))
		})

		It("fails for missing models", func() {
			Expect(run("model", "check", "missing")).To(HaveOccurred())
		})
	})

	Context("objects", func() {
		It("lists objects", func() {
			MustBeSuccessful(run("get", "Artist"))
			Expect(out.String()).To(MatchRegexp(`KEY\s+ENTITY\s+NAME\s+BIRTHYEAR\n1\s+Artist\s+Monet\s+1840\n`))
		})

		It("gets objects by key", func() {
			MustBeSuccessful(run("get", "Painting", "1", "-o", "yaml"))
			Expect(out.String()).To(ContainSubstring("entity: Sculpture"))
			Expect(out.String()).To(ContainSubstring("title: Balzac"))
			Expect(out.String()).To(ContainSubstring("artist: Artist<ID=1>"))
		})

		It("filters objects", func() {
			MustBeSuccessful(run("get", "Painting", "-w", "title=none"))
			Expect(out.String()).To(Equal("no object found\n"))
		})

		It("selects objects by qualifier", func() {
			MustBeSuccessful(run("get", "Painting", "-q", "title in ('Balzac', 'x') and gallery is null", "-o", "json"))
			Expect(out.String()).To(ContainSubstring(`"title":"Balzac"`))
			Expect(run("get", "Painting", "-q", "title =")).To(MatchError(ContainSubstring("for value")))
		})

		It("reports missing objects", func() {
			Expect(run("get", "Artist", "42")).To(MatchError(ContainSubstring("fault failure")))
		})

		It("sets attributes", func() {
			MustBeSuccessful(run("set", "Artist", "1", "birthYear=1841"))
			out = &buffer{}
			MustBeSuccessful(run("get", "Artist", "-w", "birthYear=1841", "-o", "json"))
			Expect(out.String()).To(ContainSubstring(`"name":"Monet"`))
		})

		It("creates objects", func() {
			MustBeSuccessful(run("set", "Artist", "-", "name=Rodin"))
			Expect(out.String()).To(Equal("Artist<ID=2>: updated\n"))
			Expect(run("set", "Artist", "-", "birthYear=1840")).To(MatchError(ContainSubstring("validation failed")))
		})

		It("deletes objects with cascade", func() {
			MustBeSuccessful(run("delete", "Artist", "1"))
			Expect(out.String()).To(ContainSubstring("Artist<ID=1>: deleted\n"))
			Expect(out.String()).To(ContainSubstring("Painting<ID=1>: deleted\n"))
		})
	})

	It("watches changes", func() {
		wctx, cancel := context.WithCancel(ctx)
		var err error
		done := make(chan struct{})
		go func() {
			defer close(done)
			cmd := app.New(fs)
			cmd.SetOut(out)
			cmd.SetArgs([]string{"--server", httpsrv.URL, "watch", "Artist"})
			err = cmd.ExecuteContext(wctx)
		}()
		Eventually(watch.Watchers).Should(Equal(1))

		oc := objectcontext.New(base)
		a := Must(oc.NewObject(ctx, "Artist"))
		MustBeSuccessful(a.Write(ctx, "name", "Rodin"))
		MustBeSuccessful(oc.CommitChanges(ctx))

		Eventually(out.String).Should(ContainSubstring(`"updated":[{"entity":"Artist","values":{"ID":2}}]`))
		cancel()
		Eventually(done).Should(BeClosed())
		MustBeSuccessful(err)
	})
})
