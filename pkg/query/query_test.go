package query_test

import (
	"encoding/json"
	"errors"

	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/mandelsoft/objectgraph/pkg/testutils"

	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/query"
)

var _ = Describe("queries", func() {
	var res *metadata.Resolver

	BeforeEach(func() {
		res = ArtResolver()
	})

	It("validates the query kind", func() {
		MustBeSuccessful(query.Select("Artist", nil).Query().Validate())
		MustBeSuccessful(query.ByIds().Validate())
		Expect((&query.Query{}).Validate()).To(MatchError("query requires exactly one query kind"))
		q := query.ByIds()
		q.Select = query.Select("Artist", nil)
		Expect(q.Validate()).To(HaveOccurred())
	})

	It("maps property paths to columns", func() {
		d := Must(res.Descriptor("Sculpture"))
		Expect(query.ColumnPath(d, "title")).To(Equal("TITLE"))
		Expect(query.ColumnPath(d, "material")).To(Equal("MATERIAL"))
		Expect(query.ColumnPath(d, "artist")).To(Equal("ARTIST_ID"))
		Expect(query.ColumnPath(d, "db:TYPE")).To(Equal("TYPE"))

		_, err := query.ColumnPath(d, "exhibits")
		Expect(errors.Is(err, metadata.ErrUnknownProperty)).To(BeTrue())
	})

	It("restricts sub entities", func() {
		Expect(query.Restriction(Must(res.Descriptor("Painting")))).To(BeNil())
		Expect(query.Restriction(Must(res.Descriptor("Sculpture")))).To(Equal(expr.In("TYPE", "sculpture")))
	})

	It("excludes soft deleted rows", func() {
		q := Must(query.ColumnQualifier(Must(res.Descriptor("Note")), expr.Eq("text", "x")))
		Expect(expr.Evaluate(q, map[string]any{"TEXT": "x"})).To(BeTrue())
		Expect(expr.Evaluate(q, map[string]any{"TEXT": "x", "DELETED": false})).To(BeTrue())
		Expect(expr.Evaluate(q, map[string]any{"TEXT": "x", "DELETED": true})).To(BeFalse())
		Expect(expr.Evaluate(q, map[string]any{"TEXT": "y"})).To(BeFalse())
	})

	It("maps qualifiers and orderings", func() {
		d := Must(res.Descriptor("Artist"))
		q := Must(query.ColumnQualifier(d, expr.And(expr.Eq("name", "Monet"), expr.Gt("birthYear", 1800))))
		Expect(q.Paths()).To(ConsistOf("NAME", "BIRTH_YEAR"))
		Expect(query.ColumnQualifier(d, nil)).To(BeNil())

		Expect(query.ColumnOrderings(d, []query.Ordering{query.Desc("birthYear"), query.Asc("name")})).To(Equal([]query.Ordering{
			{Path: "BIRTH_YEAR", Descending: true},
			{Path: "NAME"},
		}))
		_, err := query.ColumnOrderings(d, []query.Ordering{query.Asc("unknown")})
		Expect(err).To(HaveOccurred())
	})

	It("matches keys", func() {
		q := query.KeyQualifier(oid.NewSingle("Artist", "ID", 1), oid.NewSingle("Artist", "ID", 3))
		Expect(expr.Evaluate(q, map[string]any{"ID": 3})).To(BeTrue())
		Expect(expr.Evaluate(q, map[string]any{"ID": 2})).To(BeFalse())
		Expect(expr.Evaluate(query.KeyQualifier(), map[string]any{"ID": 2})).To(BeFalse())
	})

	It("serializes queries", func() {
		q := query.Select("Artist", expr.Eq("name", "Monet"), query.Asc("name")).Query()
		q.Select.Limit = 10
		data := Must(json.Marshal(q))
		var r query.Query
		MustBeSuccessful(json.Unmarshal(data, &r))
		Expect(r.Select.Entity).To(Equal("Artist"))
		Expect(r.Select.Limit).To(Equal(10))
		Expect(r.String()).To(Equal("select Artist where name eq Monet"))
	})

	It("describes queries", func() {
		Expect(query.ByIds(oid.NewSingle("Artist", "ID", 1)).String()).To(Equal("ids Artist<ID=1>"))
		Expect(query.ForRelationship(oid.NewSingle("Artist", "ID", 1), "Artist", "paintings").String()).To(Equal("relationship Artist<ID=1>.paintings"))
	})
})
