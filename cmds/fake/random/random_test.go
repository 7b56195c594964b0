package random_test

import (
	"context"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/mandelsoft/objectgraph/pkg/testutils"

	"github.com/mandelsoft/objectgraph/cmds/fake/random"
	"github.com/mandelsoft/objectgraph/pkg/objectbase"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/store/memory"
)

var _ = Describe("faker", func() {
	ctx := context.Background()

	It("keeps the object graph consistent", func() {
		res := ArtResolver()
		st := memory.New(Must(store.SchemaFor(res)))
		f := random.New(objectbase.New(res, st), 1)

		MustBeSuccessful(f.Run(ctx, 300, 0))
		Expect(f.Steps).To(BeNumerically(">", 0))
		Expect(st.Rows("ARTIST")).NotTo(BeEmpty())

		artists := map[any]bool{}
		for _, r := range st.Rows("ARTIST") {
			artists[r["ID"]] = true
		}
		for _, r := range st.Rows("PAINTING") {
			Expect(r["ARTIST_ID"] == nil || artists[r["ARTIST_ID"]]).To(BeTrue())
		}
	})

	It("stops with the context", func() {
		res := ArtResolver()
		f := random.New(objectbase.New(res, memory.New(Must(store.SchemaFor(res)))), 2)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		MustBeSuccessful(f.Run(cctx, 0, 0))
	})
})
