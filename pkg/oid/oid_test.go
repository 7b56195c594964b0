package oid_test

import (
	"encoding/json"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mandelsoft/objectgraph/pkg/oid"
)

var _ = Describe("object ids", func() {
	It("generates unique temporary ids", func() {
		a := oid.NewTemporary("Artist")
		b := oid.NewTemporary("Artist")
		Expect(a.IsTemporary()).To(BeTrue())
		Expect(a.Equal(b)).To(BeFalse())
		Expect(a.Values()).To(BeNil())
		Expect(a.String()).To(HavePrefix("Artist<TEMP:"))
	})

	It("compares permanent ids independent of the integer type", func() {
		a := oid.NewSingle("Artist", "ID", 5)
		b := oid.NewSingle("Artist", "ID", int64(5))
		Expect(a.Equal(b)).To(BeTrue())
		Expect(a.Key()).To(Equal(b.Key()))
		Expect(a.String()).To(Equal("Artist<ID=5>"))
	})

	It("handles compound keys", func() {
		a := oid.New("Exhibit", map[string]any{"GALLERY_ID": 1, "PAINTING_ID": 2})
		b := oid.New("Exhibit", map[string]any{"PAINTING_ID": 2, "GALLERY_ID": 1})
		Expect(a.Equal(b)).To(BeTrue())
		Expect(a.Columns()).To(Equal([]string{"GALLERY_ID", "PAINTING_ID"}))
		Expect(a.Equal(oid.New("Exhibit", map[string]any{"GALLERY_ID": 1, "PAINTING_ID": 3}))).To(BeFalse())
	})

	It("distinguishes entities", func() {
		Expect(oid.NewSingle("Artist", "ID", 1).Equal(oid.NewSingle("Painting", "ID", 1))).To(BeFalse())
		Expect(oid.NewSingle("Painting", "ID", 1).WithEntity("Sculpture").Entity()).To(Equal("Sculpture"))
	})

	It("survives serialization", func() {
		for _, id := range []oid.ObjectId{oid.NewTemporary("Artist"), oid.NewSingle("Artist", "ID", 4711)} {
			data := Must(json.Marshal(id))
			var r oid.ObjectId
			MustBeSuccessful(json.Unmarshal(data, &r))
			Expect(r.Equal(id)).To(BeTrue())
			Expect(r.IsTemporary()).To(Equal(id.IsTemporary()))
		}
		var r oid.ObjectId
		MustBeSuccessful(json.Unmarshal(Must(json.Marshal(oid.NewSingle("Artist", "ID", 7))), &r))
		Expect(r.Value("ID")).To(Equal(int64(7)))
	})
})
