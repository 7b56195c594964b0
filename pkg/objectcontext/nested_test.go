package objectcontext_test

import (
	"errors"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/query"
)

var _ = Describe("nested contexts", func() {
	var (
		e      *env
		parent *objectcontext.Context
		child  *objectcontext.Context
	)

	BeforeEach(func() {
		e = newEnv()
		parent = e.context(objectcontext.WithName("parent"))
		child = parent.NewChild(objectcontext.WithName("child"))
	})

	It("uses the parent as channel", func() {
		Expect(child.Parent()).To(BeIdenticalTo(parent))
		Expect(child.Resolver()).To(BeIdenticalTo(parent.Resolver()))
		Expect(child.Callbacks()).To(BeIdenticalTo(parent.Callbacks()))
	})

	It("flushes changes to the parent", func() {
		a := create(child, "Artist", "name", "Monet")
		p := create(child, "Painting", "title", "Poppies")
		MustBeSuccessful(a.AddToMany(ctx, "paintings", p))

		MustBeSuccessful(child.CommitChangesToParent(ctx))
		Expect(child.HasChanges()).To(BeFalse())
		Expect(a.State()).To(Equal(persistent.Committed))
		Expect(e.store.Executions()).To(Equal(0))

		pa := parent.RegisteredObject(a.Id())
		Expect(pa).NotTo(BeNil())
		Expect(pa).NotTo(BeIdenticalTo(a))
		Expect(pa.State()).To(Equal(persistent.New))
		Expect(read(pa, "name")).To(Equal("Monet"))
		pp := parent.RegisteredObject(p.Id())
		Expect(pp.ToOne(ctx, "artist")).To(BeIdenticalTo(pa))

		MustBeSuccessful(parent.CommitChanges(ctx))
		Expect(e.store.Rows("ARTIST")).To(HaveLen(1))
		Expect(e.store.Rows("PAINTING")[0]["ARTIST_ID"]).To(Equal(pa.Id().Value("ID")))
	})

	It("commits through the parent", func() {
		a := create(child, "Artist", "name", "Monet")
		temp := a.Id()
		MustBeSuccessful(child.CommitChanges(ctx))

		Expect(a.Id().IsTemporary()).To(BeFalse())
		Expect(a.State()).To(Equal(persistent.Committed))
		Expect(child.RegisteredObject(temp)).To(BeNil())
		pa := parent.RegisteredObject(a.Id())
		Expect(pa).NotTo(BeNil())
		Expect(pa.State()).To(Equal(persistent.Committed))
		Expect(parent.HasChanges()).To(BeFalse())
		Expect(e.store.Rows("ARTIST")).To(HaveLen(1))
	})

	It("restores the parent for failing commits", func() {
		pa := create(parent, "Artist", "birthYear", 1840)
		g := create(child, "Gallery", "name", "Orangerie")

		err := child.CommitChanges(ctx)
		var ve *persistent.ValidationError
		Expect(errors.As(err, &ve)).To(BeTrue())
		Expect(ve.Entity).To(Equal("Artist"))

		Expect(parent.Objects()).To(ConsistOf(pa))
		Expect(parent.RegisteredObject(g.Id())).To(BeNil())
		Expect(g.State()).To(Equal(persistent.New))
		Expect(child.HasChanges()).To(BeTrue())
		Expect(e.store.Executions()).To(Equal(0))

		MustBeSuccessful(pa.Write(ctx, "name", "Monet"))
		MustBeSuccessful(child.CommitChanges(ctx))
		Expect(g.Id().IsTemporary()).To(BeFalse())
		Expect(e.store.Rows("GALLERY")).To(HaveLen(1))
		Expect(e.store.Rows("ARTIST")).To(HaveLen(1))
	})

	It("sees uncommitted objects of the parent", func() {
		pa := create(parent, "Artist", "name", "Monet")
		list := Must(child.Select(ctx, "Artist", nil))
		Expect(list).To(HaveLen(1))
		ca := list[0]
		Expect(ca).NotTo(BeIdenticalTo(pa))
		Expect(ca.Id().Equal(pa.Id())).To(BeTrue())
		Expect(ca.State()).To(Equal(persistent.Committed))
		Expect(read(ca, "name")).To(Equal("Monet"))

		MustBeSuccessful(ca.Write(ctx, "birthYear", 1840))
		MustBeSuccessful(child.CommitChangesToParent(ctx))
		Expect(read(pa, "birthYear")).To(Equal(int64(1840)))
		Expect(pa.State()).To(Equal(persistent.New))
	})

	It("evaluates queries against the parent state", func() {
		for _, n := range []string{"Monet", "Manet", "Renoir"} {
			create(parent, "Artist", "name", n)
		}
		MustBeSuccessful(parent.CommitChanges(ctx))

		MustBeSuccessful(selectOne(parent, "Artist", "name", "Renoir").Write(ctx, "name", "Degas"))
		create(parent, "Artist", "name", "Cezanne")
		MustBeSuccessful(parent.DeleteObject(ctx, selectOne(parent, "Artist", "name", "Manet")))

		Expect(selectOne(child, "Artist", "name", "Renoir")).To(BeNil())
		Expect(selectOne(child, "Artist", "name", "Degas")).NotTo(BeNil())

		list := Must(child.PerformQuery(ctx, (&query.SelectQuery{
			Entity:    "Artist",
			Orderings: []query.Ordering{query.Asc("name")},
			Limit:     2,
		}).Query()))
		Expect(list).To(HaveLen(2))
		Expect(read(list[0], "name")).To(Equal("Cezanne"))
		Expect(read(list[1], "name")).To(Equal("Degas"))

		list = Must(child.PerformQuery(ctx, (&query.SelectQuery{
			Entity:    "Artist",
			Orderings: []query.Ordering{query.Asc("name")},
			Offset:    2,
		}).Query()))
		Expect(list).To(HaveLen(1))
		Expect(read(list[0], "name")).To(Equal("Monet"))
	})

	It("resolves faults through the parent", func() {
		a := create(parent, "Artist", "name", "Monet")
		p := create(parent, "Painting", "title", "Poppies")
		MustBeSuccessful(p.SetToOne(ctx, "artist", a))
		MustBeSuccessful(parent.CommitChanges(ctx))
		parent.InvalidateObjects(a, p)

		cp := Must(child.ObjectById(ctx, p.Id()))
		Expect(read(cp, "title")).To(Equal("Poppies"))
		ca := Must(cp.ToOne(ctx, "artist"))
		Expect(ca).NotTo(BeNil())
		Expect(ca).NotTo(BeIdenticalTo(a))
		Expect(read(ca, "name")).To(Equal("Monet"))
		Expect(ca.ToMany(ctx, "paintings")).To(ConsistOf(cp))
	})

	It("loads hollow targets of the parent for relationships", func() {
		setup := e.context()
		a := create(setup, "Artist", "name", "Monet")
		p := create(setup, "Painting", "title", "Poppies")
		MustBeSuccessful(p.SetToOne(ctx, "artist", a))
		MustBeSuccessful(setup.CommitChanges(ctx))

		pa := Must(parent.LocalObject(a.Id(), "Artist"))
		Expect(pa.State()).To(Equal(persistent.Hollow))

		cp := Must(child.ObjectById(ctx, p.Id()))
		ca := Must(cp.ToOne(ctx, "artist"))
		Expect(ca).NotTo(BeNil())
		Expect(ca.State()).To(Equal(persistent.Committed))
		Expect(read(ca, "name")).To(Equal("Monet"))
		Expect(pa.State()).To(Equal(persistent.Committed))
	})

	It("hides objects deleted in the parent", func() {
		a := create(parent, "Artist", "name", "Monet")
		p := create(parent, "Painting", "title", "Poppies")
		MustBeSuccessful(p.SetToOne(ctx, "artist", a))
		MustBeSuccessful(parent.CommitChanges(ctx))
		MustBeSuccessful(parent.DeleteObject(ctx, p))

		Expect(child.Select(ctx, "Painting", nil)).To(BeEmpty())
		ca := selectOne(child, "Artist", "name", "Monet")
		Expect(ca.ToMany(ctx, "paintings")).To(BeEmpty())
	})

	It("propagates deletions", func() {
		a := create(parent, "Artist", "name", "Monet")
		p := create(parent, "Painting", "title", "Poppies")
		MustBeSuccessful(p.SetToOne(ctx, "artist", a))
		MustBeSuccessful(parent.CommitChanges(ctx))

		ca := selectOne(child, "Artist", "name", "Monet")
		MustBeSuccessful(child.DeleteObject(ctx, ca))
		MustBeSuccessful(child.CommitChangesToParent(ctx))
		Expect(a.State()).To(Equal(persistent.Deleted))
		Expect(p.State()).To(Equal(persistent.Deleted))
		Expect(child.Objects()).To(BeEmpty())

		MustBeSuccessful(parent.CommitChanges(ctx))
		Expect(e.store.Rows("ARTIST")).To(BeEmpty())
		Expect(e.store.Rows("PAINTING")).To(BeEmpty())
	})

	It("fails for objects vanished in the parent", func() {
		pa := create(parent, "Artist", "name", "Monet")
		ca := Must(child.Select(ctx, "Artist", nil))[0]
		MustBeSuccessful(child.DeleteObject(ctx, ca))
		MustBeSuccessful(parent.DeleteObject(ctx, pa))

		err := child.CommitChangesToParent(ctx)
		var ff *persistent.FaultFailureError
		Expect(errors.As(err, &ff)).To(BeTrue())
		Expect(ca.State()).To(Equal(persistent.Deleted))
		Expect(child.HasChanges()).To(BeTrue())
	})
})
