package graph_test

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-test/deep"
	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/mandelsoft/objectgraph/pkg/testutils"

	"github.com/mandelsoft/objectgraph/pkg/graph"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
)

type trace struct {
	ops []string
}

func (t *trace) NodeCreated(id oid.ObjectId, entity string) error {
	t.ops = append(t.ops, "create "+id.String())
	return nil
}

func (t *trace) NodeRemoved(id oid.ObjectId) error {
	t.ops = append(t.ops, "remove "+id.String())
	return nil
}

func (t *trace) NodePropertyChanged(id oid.ObjectId, property string, old, new any) error {
	t.ops = append(t.ops, fmt.Sprintf("set %s.%s=%v", id, property, new))
	return nil
}

func (t *trace) ArcCreated(id oid.ObjectId, relationship string, target oid.ObjectId) error {
	t.ops = append(t.ops, fmt.Sprintf("link %s.%s %s", id, relationship, target))
	return nil
}

func (t *trace) ArcDeleted(id oid.ObjectId, relationship string, target oid.ObjectId) error {
	t.ops = append(t.ops, fmt.Sprintf("unlink %s.%s %s", id, relationship, target))
	return nil
}

var _ = Describe("graph manager", func() {
	var (
		res *metadata.Resolver
		m   *graph.Manager
	)

	object := func(entity string, id int) *persistent.Object {
		d := Must(res.Descriptor(entity))
		return persistent.NewObject(nil, d, oid.NewSingle(d.Root, "ID", id), persistent.Committed)
	}

	BeforeEach(func() {
		res = ArtResolver()
		m = graph.NewManager()
	})

	Context("identity map", func() {
		It("registers nodes", func() {
			a := object("Artist", 1)
			MustBeSuccessful(m.RegisterNode(a))
			MustBeSuccessful(m.RegisterNode(a))
			Expect(m.Node(oid.NewSingle("Artist", "ID", int64(1)))).To(BeIdenticalTo(a))
			Expect(m.Len()).To(Equal(1))
		})

		It("rejects a second instance", func() {
			MustBeSuccessful(m.RegisterNode(object("Artist", 1)))
			err := m.RegisterNode(object("Artist", 1))
			var ic *persistent.IdentityConflictError
			Expect(errors.As(err, &ic)).To(BeTrue())
		})

		It("scopes identities to the root entity", func() {
			MustBeSuccessful(m.RegisterNode(object("Sculpture", 1)))
			Expect(m.RegisterNode(object("Painting", 1))).To(HaveOccurred())
			Expect(m.Node(oid.NewSingle("Painting", "ID", 1)).Entity()).To(Equal("Sculpture"))
		})

		It("returns dirty nodes in registration order", func() {
			a := object("Artist", 2)
			b := object("Artist", 1)
			c := object("Artist", 3)
			MustBeSuccessful(m.RegisterNode(a))
			MustBeSuccessful(m.RegisterNode(b))
			MustBeSuccessful(m.RegisterNode(c))
			a.SetState(persistent.Modified)
			c.SetState(persistent.Deleted)
			Expect(m.DirtyNodes()).To(Equal([]*persistent.Object{a, c}))
			Expect(m.DirtyNodes(persistent.Deleted)).To(Equal([]*persistent.Object{c}))
		})

		It("replaces ids", func() {
			d := Must(res.Descriptor("Artist"))
			tmp := oid.NewTemporary("Artist")
			a := persistent.NewObject(nil, d, tmp, persistent.New)
			p := object("Painting", 1)
			MustBeSuccessful(m.RegisterNode(a))
			m.NodeCreated(a)
			m.ArcChanged(p, "artist", a, true)

			perm := oid.NewSingle("Artist", "ID", 10)
			MustBeSuccessful(m.ReplaceId(tmp, perm))
			Expect(a.Id()).To(Equal(perm))
			Expect(m.Node(tmp)).To(BeNil())
			Expect(m.Node(perm)).To(BeIdenticalTo(a))
			diff := m.Diff()
			Expect(diff.Changes[0].Node).To(Equal(perm))
			Expect(*diff.Changes[1].Target).To(Equal(perm))
		})
	})

	Context("change log", func() {
		It("records and truncates", func() {
			a := object("Artist", 1)
			m.NodePropertyChanged(a, "name", nil, "a")
			mark := m.Mark()
			m.NodePropertyChanged(a, "name", "a", "b")
			Expect(m.Since(mark).Len()).To(Equal(1))
			m.Truncate(mark)
			Expect(m.Diff().Len()).To(Equal(1))
			m.ClearDiff()
			Expect(m.HasChanges()).To(BeFalse())
		})

		It("undoes in reverse order", func() {
			a := object("Artist", 1)
			p := object("Painting", 2)
			m.NodePropertyChanged(a, "name", "a", "b")
			m.ArcChanged(p, "artist", a, true)
			t := &trace{}
			MustBeSuccessful(m.Diff().Undo(t))
			Expect(t.ops).To(Equal([]string{
				"unlink Painting<ID=2>.artist Artist<ID=1>",
				"set Artist<ID=1>.name=a",
			}))
		})

		It("is serializable", func() {
			a := object("Artist", 1)
			p := object("Painting", 2)
			m.NodePropertyChanged(a, "birthYear", nil, 1840)
			m.ArcChanged(p, "artist", a, true)
			data := Must(json.Marshal(m.Diff()))
			var diff graph.Diff
			MustBeSuccessful(json.Unmarshal(data, &diff))
			Expect(diff.Changes).To(HaveLen(2))
			Expect(diff.Changes[1].Target.Equal(a.Id())).To(BeTrue())

			t := &trace{}
			MustBeSuccessful(diff.Apply(t))
			Expect(deep.Equal(t.ops, []string{
				"set Artist<ID=1>.birthYear=1840",
				"link Painting<ID=2>.artist Artist<ID=1>",
			})).To(BeNil())
		})
	})

	Context("compression", func() {
		It("coalesces property changes", func() {
			a := object("Artist", 1)
			m.NodePropertyChanged(a, "name", "a", "b")
			m.NodePropertyChanged(a, "name", "b", "c")
			m.NodePropertyChanged(a, "birthYear", 1, 2)
			m.NodePropertyChanged(a, "birthYear", 2, 1)
			diff := m.Diff().Compressed()
			Expect(diff.Changes).To(HaveLen(1))
			Expect(diff.Changes[0].Old).To(Equal("a"))
			Expect(diff.Changes[0].New).To(Equal("c"))
		})

		It("cancels arcs", func() {
			a := object("Artist", 1)
			p := object("Painting", 2)
			m.ArcChanged(p, "artist", a, true)
			m.ArcChanged(p, "artist", a, false)
			Expect(m.Diff().Compressed().IsEmpty()).To(BeTrue())
		})

		It("drops transient nodes", func() {
			d := Must(res.Descriptor("Artist"))
			a := persistent.NewObject(nil, d, oid.NewTemporary("Artist"), persistent.New)
			p := object("Painting", 2)
			m.NodeCreated(a)
			m.NodePropertyChanged(a, "name", nil, "x")
			m.ArcChanged(p, "artist", a, true)
			m.NodeRemoved(a)
			Expect(m.Diff().Compressed().IsEmpty()).To(BeTrue())
		})
	})
})
