package deleterule_test

import (
	"context"
	"errors"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/mandelsoft/objectgraph/pkg/testutils"

	"github.com/mandelsoft/objectgraph/pkg/deleterule"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
)

type deleter struct {
	deleted []*persistent.Object
}

func (d *deleter) DeleteNode(o *persistent.Object) error {
	o.SetState(persistent.Deleted)
	d.deleted = append(d.deleted, o)
	return nil
}

var _ = Describe("delete rules", func() {
	ctx := context.Background()
	var (
		res *metadata.Resolver
		del *deleter
	)

	object := func(entity string) *persistent.Object {
		d := Must(res.Descriptor(entity))
		return persistent.NewObject(nil, d, oid.NewTemporary(d.Root), persistent.New)
	}

	BeforeEach(func() {
		res = ArtResolver()
		del = &deleter{}
	})

	It("cascades", func() {
		a := object("Artist")
		p1 := object("Painting")
		p2 := object("Sculpture")
		n := object("Note")
		MustBeSuccessful(a.AddToMany(ctx, "paintings", p1))
		MustBeSuccessful(a.AddToMany(ctx, "paintings", p2))
		MustBeSuccessful(a.AddToMany(ctx, "notes", n))

		MustBeSuccessful(deleterule.Delete(ctx, del, a))
		Expect(del.deleted).To(ConsistOf(a, p1, p2, n))
		Expect(del.deleted[0]).To(BeIdenticalTo(a))
	})

	It("nullifies", func() {
		a := object("Artist")
		g := object("Gallery")
		p := object("Painting")
		MustBeSuccessful(p.SetToOne(ctx, "artist", a))
		MustBeSuccessful(p.SetToOne(ctx, "gallery", g))

		MustBeSuccessful(deleterule.Delete(ctx, del, p))
		Expect(del.deleted).To(ConsistOf(p))
		Expect(a.ToMany(ctx, "paintings")).To(BeEmpty())
		Expect(g.ToMany(ctx, "paintings")).To(BeEmpty())
		Expect(p.ToOne(ctx, "artist")).To(BeNil())
	})

	It("denies without modifying anything", func() {
		g := object("Gallery")
		p := object("Painting")
		MustBeSuccessful(g.AddToMany(ctx, "paintings", p))

		err := deleterule.Delete(ctx, del, g)
		var dd *persistent.DeleteDenyError
		Expect(errors.As(err, &dd)).To(BeTrue())
		Expect(dd.Relationship).To(Equal("paintings"))
		Expect(dd.Related).To(Equal(p.Id()))
		Expect(del.deleted).To(BeEmpty())
		Expect(g.ToMany(ctx, "paintings")).To(ConsistOf(p))
	})

	It("accepts denied relationships inside the closure", func() {
		g := object("Gallery")
		p := object("Painting")
		MustBeSuccessful(g.AddToMany(ctx, "paintings", p))

		MustBeSuccessful(deleterule.Delete(ctx, del, g, p))
		Expect(del.deleted).To(ConsistOf(g, p))
	})

	It("accepts denied relationships to deleted objects", func() {
		g := object("Gallery")
		p := object("Painting")
		MustBeSuccessful(g.AddToMany(ctx, "paintings", p))
		p.SetState(persistent.Deleted)

		MustBeSuccessful(deleterule.Delete(ctx, del, g))
		Expect(del.deleted).To(ConsistOf(g))
	})

	Context("deny reached by cascade", func() {
		var a, p, g, e *persistent.Object

		BeforeEach(func() {
			a = object("Artist")
			p = object("Painting")
			g = object("Gallery")
			e = object("Exhibit")
			MustBeSuccessful(a.AddToMany(ctx, "paintings", p))
			MustBeSuccessful(e.SetToOne(ctx, "painting", p))
			MustBeSuccessful(e.SetToOne(ctx, "gallery", g))
		})

		It("fails for the whole closure", func() {
			err := deleterule.Delete(ctx, del, a)
			var dd *persistent.DeleteDenyError
			Expect(errors.As(err, &dd)).To(BeTrue())
			Expect(dd.Entity).To(Equal("Painting"))
			Expect(dd.Relationship).To(Equal("exhibits"))
			Expect(del.deleted).To(BeEmpty())
			Expect(a.State()).To(Equal(persistent.New))
			Expect(p.State()).To(Equal(persistent.New))
		})

		It("succeeds after the denying object is deleted", func() {
			MustBeSuccessful(deleterule.Delete(ctx, del, e))
			MustBeSuccessful(deleterule.Delete(ctx, del, a))
			Expect(del.deleted).To(ConsistOf(e, a, p))
		})

		It("does not restrict deleting the target of a denying object", func() {
			MustBeSuccessful(deleterule.Delete(ctx, del, e))
			Expect(del.deleted).To(ConsistOf(e))
		})
	})

	It("plans without side effects", func() {
		a := object("Artist")
		p := object("Painting")
		g := object("Gallery")
		MustBeSuccessful(a.AddToMany(ctx, "paintings", p))
		MustBeSuccessful(p.SetToOne(ctx, "gallery", g))

		plan := Must(deleterule.NewPlan(ctx, a))
		Expect(plan.Objects).To(Equal([]*persistent.Object{a, p}))
		Expect(plan.Nullify).To(HaveLen(1))
		Expect(plan.Nullify[0].Relationship).To(Equal("gallery"))
		Expect(p.ToOne(ctx, "gallery")).To(BeIdenticalTo(g))
	})

	It("verifies deny rules of deleted objects", func() {
		g := object("Gallery")
		p := object("Painting")
		MustBeSuccessful(g.AddToMany(ctx, "paintings", p))
		g.SetState(persistent.Deleted)

		var dd *persistent.DeleteDenyError
		Expect(errors.As(deleterule.Verify(g), &dd)).To(BeTrue())
		Expect(dd.Related).To(Equal(p.Id()))
		Expect(deleterule.Verify(g, p)).To(Succeed())
	})
})
