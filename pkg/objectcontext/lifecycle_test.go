package objectcontext_test

import (
	"context"
	"fmt"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/query"
)

var _ = Describe("lifecycle callbacks", func() {
	var (
		e         *env
		callbacks *objectcontext.Callbacks
		oc        *objectcontext.Context
		calls     []string
	)

	record := func(t objectcontext.Lifecycle) objectcontext.Callback {
		return func(ctx context.Context, o *persistent.Object) error {
			calls = append(calls, fmt.Sprintf("%s %s", t, o.Entity()))
			return nil
		}
	}

	BeforeEach(func() {
		e = newEnv()
		calls = nil
		callbacks = objectcontext.NewCallbacks()
		oc = e.context(objectcontext.WithCallbacks(callbacks))
	})

	It("calls callbacks of super entities", func() {
		callbacks.Register(objectcontext.PostAdd, record(objectcontext.PostAdd), "Painting")
		callbacks.Register(objectcontext.PrePersist, record(objectcontext.PrePersist))
		callbacks.Register(objectcontext.PostPersist, record(objectcontext.PostPersist), "Sculpture")

		create(oc, "Sculpture", "title", "Bust")
		create(oc, "Artist", "name", "Rodin")
		Expect(calls).To(Equal([]string{"PostAdd Sculpture"}))

		MustBeSuccessful(oc.CommitChanges(ctx))
		Expect(calls).To(ContainElements("PrePersist Sculpture", "PrePersist Artist", "PostPersist Sculpture"))
		Expect(calls).To(HaveLen(4))
	})

	It("calls update, remove and load callbacks", func() {
		create(oc, "Artist", "name", "Monet")
		MustBeSuccessful(oc.CommitChanges(ctx))

		for _, t := range []objectcontext.Lifecycle{objectcontext.PostLoad, objectcontext.PreUpdate, objectcontext.PostUpdate, objectcontext.PreRemove, objectcontext.PostRemove} {
			callbacks.Register(t, record(t), "Artist")
		}
		c := e.context(objectcontext.WithCallbacks(callbacks))
		a := selectOne(c, "Artist", "name", "Monet")
		Expect(calls).To(Equal([]string{"PostLoad Artist"}))

		MustBeSuccessful(a.Write(ctx, "birthYear", 1840))
		MustBeSuccessful(c.CommitChanges(ctx))
		Expect(calls[1:]).To(Equal([]string{"PreUpdate Artist", "PostUpdate Artist"}))

		MustBeSuccessful(c.DeleteObject(ctx, a))
		MustBeSuccessful(c.CommitChanges(ctx))
		Expect(calls[3:]).To(Equal([]string{"PreRemove Artist", "PostRemove Artist"}))
	})

	It("aborts object creation", func() {
		callbacks.Register(objectcontext.PostAdd, func(ctx context.Context, o *persistent.Object) error {
			return fmt.Errorf("not allowed")
		}, "Gallery")

		_, err := oc.NewObject(ctx, "Gallery")
		Expect(err).To(MatchError("not allowed"))
		Expect(oc.Objects()).To(BeEmpty())
		Expect(oc.HasChanges()).To(BeFalse())
	})

	It("aborts deletion", func() {
		a := create(oc, "Artist", "name", "Monet")
		p := create(oc, "Painting", "title", "Poppies")
		MustBeSuccessful(a.AddToMany(ctx, "paintings", p))
		MustBeSuccessful(oc.CommitChanges(ctx))

		callbacks.Register(objectcontext.PreRemove, func(ctx context.Context, o *persistent.Object) error {
			return fmt.Errorf("keep %s", read(o, "title"))
		}, "Painting")
		Expect(oc.DeleteObject(ctx, a)).To(MatchError("keep Poppies"))
		Expect(a.State()).To(Equal(persistent.Committed))
		Expect(p.State()).To(Equal(persistent.Committed))
	})

	It("undoes modifications of failing commits", func() {
		a := create(oc, "Artist", "name", "Monet")
		MustBeSuccessful(oc.CommitChanges(ctx))

		callbacks.Register(objectcontext.PreUpdate, func(ctx context.Context, o *persistent.Object) error {
			if err := o.Write(ctx, "name", "Claude Monet"); err != nil {
				return err
			}
			return fmt.Errorf("rejected")
		}, "Artist")

		MustBeSuccessful(a.Write(ctx, "birthYear", 1840))
		Expect(oc.CommitChanges(ctx)).To(MatchError("rejected"))
		Expect(read(a, "name")).To(Equal("Monet"))
		Expect(read(a, "birthYear")).To(Equal(int64(1840)))
		Expect(a.State()).To(Equal(persistent.Modified))
		Expect(e.store.Rows("ARTIST")[0]["BIRTH_YEAR"]).To(BeNil())
	})
})

var _ = Describe("paged queries", func() {
	var (
		e  *env
		oc *objectcontext.Context
	)

	BeforeEach(func() {
		e = newEnv()
		oc = e.context()
		for i := 0; i < 7; i++ {
			create(oc, "Painting", "title", fmt.Sprintf("painting %d", i))
		}
		MustBeSuccessful(oc.CommitChanges(ctx))
	})

	It("fetches pages on demand", func() {
		c := e.context()
		l := Must(c.PerformPagedQuery(ctx, query.Select("Painting", nil, query.Desc("title")), 3))
		Expect(l.Len()).To(Equal(7))
		Expect(l.PageCount()).To(Equal(3))
		Expect(c.Objects()).To(BeEmpty())

		o := Must(l.Get(ctx, 4))
		Expect(read(o, "title")).To(Equal("painting 2"))
		Expect(l.IsResolved(1)).To(BeTrue())
		Expect(l.IsResolved(0)).To(BeFalse())
		Expect(c.Objects()).To(HaveLen(3))

		all := Must(l.All(ctx))
		Expect(all).To(HaveLen(7))
		Expect(read(all[0], "title")).To(Equal("painting 6"))
		Expect(all[4]).To(BeIdenticalTo(o))

		_, err := l.Page(ctx, 3)
		Expect(err).To(HaveOccurred())
	})

	It("omits vanished objects", func() {
		c := e.context()
		l := Must(c.PerformPagedQuery(ctx, query.Select("Painting", nil, query.Asc("title")), 5))

		other := e.context()
		MustBeSuccessful(other.DeleteObject(ctx, selectOne(other, "Painting", "title", "painting 1")))
		MustBeSuccessful(other.CommitChanges(ctx))

		page := Must(l.Page(ctx, 0))
		Expect(page).To(HaveLen(4))
		Expect(l.Get(ctx, 1)).To(BeNil())
		Expect(read(Must(l.Get(ctx, 2)), "title")).To(Equal("painting 2"))
	})

	It("rejects invalid page sizes", func() {
		_, err := oc.PerformPagedQuery(ctx, query.Select("Painting", nil), 0)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("commit metrics", func() {
	It("counts commits", func() {
		e := newEnv()
		c := e.context()
		commits := e.base.Metrics().Commits

		a := create(c, "Artist", "name", "Monet")
		MustBeSuccessful(c.CommitChanges(ctx))
		Expect(testutil.ToFloat64(commits.WithLabelValues("success"))).To(Equal(1.0))

		MustBeSuccessful(a.Write(ctx, "name", "Manet"))
		MustBeSuccessful(a.Write(ctx, "name", "Monet"))
		MustBeSuccessful(c.CommitChanges(ctx))
		Expect(testutil.ToFloat64(commits.WithLabelValues("success"))).To(Equal(1.0))

		other := e.context()
		MustBeSuccessful(selectOne(other, "Artist", "name", "Monet").Write(ctx, "name", "Manet"))
		MustBeSuccessful(other.CommitChanges(ctx))
		MustBeSuccessful(a.Write(ctx, "birthYear", 1840))
		Expect(c.CommitChanges(ctx)).To(HaveOccurred())
		Expect(testutil.ToFloat64(commits.WithLabelValues("conflict"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(e.base.Metrics().LockFailures)).To(Equal(1.0))
	})
})
