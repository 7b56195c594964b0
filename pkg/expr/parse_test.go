package expr_test

import (
	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mandelsoft/objectgraph/pkg/expr"
)

var _ = Describe("parsing qualifiers", func() {
	DescribeTable("parses",
		func(in string, exp *expr.Expression) {
			Expect(Must(expr.Parse(in))).To(Equal(exp))
		},
		Entry("empty", "  ", nil),
		Entry("comparison", "price >= 100", expr.Ge("price", 100)),
		Entry("float", "price < -1.5", expr.Lt("price", -1.5)),
		Entry("string", `title = 'Water "Lilies"'`, expr.Eq("title", `Water "Lilies"`)),
		Entry("escapes", `title != "it\"s"`, expr.Ne("title", `it"s`)),
		Entry("sql inequality", "title <> 'x'", expr.Ne("title", "x")),
		Entry("path", "artist.name = 'Monet'", expr.Eq("artist.name", "Monet")),
		Entry("booleans", "deleted = false", expr.Eq("deleted", false)),
		Entry("null", "gallery = null", expr.IsNull("gallery")),
		Entry("not null", "gallery is not null", expr.Not(expr.IsNull("gallery"))),
		Entry("in", "title in ('a', 'b')", expr.In("title", "a", "b")),
		Entry("precedence", "a = 1 or b = 2 and c = 3",
			expr.Or(expr.Eq("a", 1), expr.And(expr.Eq("b", 2), expr.Eq("c", 3)))),
		Entry("parentheses", "(a = 1 OR b = 2) AND NOT c = 3",
			expr.And(expr.Or(expr.Eq("a", 1), expr.Eq("b", 2)), expr.Not(expr.Eq("c", 3)))),
		Entry("keyword prefixes", "order = 1 and isbn is null", expr.And(expr.Eq("order", 1), expr.IsNull("isbn"))),
	)

	DescribeTable("rejects",
		func(in string, msg string) {
			_, err := expr.Parse(in)
			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("missing operator", "price 100", "comparison operator expected"),
		Entry("missing value", "price >", "for value"),
		Entry("unterminated", "title = 'x", "unterminated string"),
		Entry("trailing", "a = 1 b", "unexpected character"),
		Entry("parenthesis", "(a = 1", `")" expected`),
		Entry("null ordering", "a < null", "null not possible"),
	)

	It("evaluates parsed qualifiers", func() {
		e := Must(expr.Parse("price > 10 and title in ('a', 'b')"))
		Expect(expr.Evaluate(e, map[string]any{"price": 11.0, "title": "b"})).To(BeTrue())
		Expect(expr.Evaluate(e, map[string]any{"price": 11.0, "title": "c"})).To(BeFalse())
	})
})
