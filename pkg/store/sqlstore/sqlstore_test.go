package sqlstore_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	. "github.com/mandelsoft/goutils/testutils"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/mandelsoft/objectgraph/pkg/testutils"

	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/query"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/store/sqlstore"
)

var _ = Describe("sql store", func() {
	ctx := context.Background()
	var (
		schema *store.Schema
		s      *sqlstore.Store
	)

	BeforeEach(func() {
		schema = Must(store.SchemaFor(ArtResolver()))
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		s = Must(sqlstore.Open(ctx, sqlstore.SQLite, dsn, schema))
		MustBeSuccessful(s.CreateTables(ctx))
	})

	AfterEach(func() {
		s.Close()
	})

	Context("dialects", func() {
		It("renders ddl", func() {
			ddl := sqlstore.Postgres.CreateTable(schema.Table("EXHIBIT"))
			Expect(ddl).To(ContainSubstring(`"GALLERY_ID" TEXT NOT NULL`))
			Expect(ddl).To(ContainSubstring(`"PAINTING_ID" BIGINT NOT NULL`))
			Expect(ddl).To(ContainSubstring(`PRIMARY KEY ("GALLERY_ID", "PAINTING_ID")`))
			Expect(ddl).To(ContainSubstring(`FOREIGN KEY ("PAINTING_ID") REFERENCES "PAINTING" ("ID")`))
			Expect(sqlstore.SQLite.CreateTable(schema.Table("ARTIST"))).To(ContainSubstring(`"ID" INTEGER PRIMARY KEY AUTOINCREMENT`))
		})

		It("orders tables for creation", func() {
			var tables []string
			for _, stmt := range sqlstore.DDL(sqlstore.SQLite, schema) {
				tables = append(tables, strings.Fields(stmt)[5])
			}
			Expect(tables).To(HaveLen(len(schema.Tables)))
			index := func(t string) int {
				for i, n := range tables {
					if n == `"`+t+`"` {
						return i
					}
				}
				return -1
			}
			Expect(index("ARTIST")).To(BeNumerically("<", index("PAINTING")))
			Expect(index("PAINTING")).To(BeNumerically("<", index("EXHIBIT")))
			Expect(index("GALLERY")).To(BeNumerically("<", index("EXHIBIT")))
		})

		It("resolves names", func() {
			Expect(sqlstore.DialectFor("postgresql")).To(BeIdenticalTo(sqlstore.Postgres))
			_, err := sqlstore.DialectFor("oracle")
			Expect(err).To(MatchError(store.ErrUnsupportedDriver))
		})
	})

	It("writes and reads rows", func() {
		tx := Must(s.Begin(ctx))
		out := Must(tx.Write(ctx, &store.Batch{Kind: store.Insert, Table: "ARTIST", Generated: "ID", Rows: []store.Row{
			{Values: map[string]any{"NAME": "Monet", "BIRTH_YEAR": 1840}},
			{Values: map[string]any{"NAME": "Manet", "BIRTH_YEAR": 1832}},
		}}))
		Expect(out[0].GeneratedKey).To(Equal(int64(1)))
		Expect(out[1].GeneratedKey).To(Equal(int64(2)))
		Expect(out[0].Statement).To(Equal(`INSERT INTO "ARTIST" ("BIRTH_YEAR", "NAME") VALUES (?, ?)`))
		MustBeSuccessful(tx.Commit(ctx))

		tx = Must(s.Begin(ctx))
		defer tx.Rollback(ctx)
		rows := Must(store.ReadAll(Must(tx.Select(ctx, &store.Select{
			Table:     "ARTIST",
			Columns:   []string{"ID", "NAME"},
			Qualifier: expr.Lt("BIRTH_YEAR", 1900),
			Orderings: []query.Ordering{query.Asc("BIRTH_YEAR")},
		}))))
		Expect(rows).To(Equal([]map[string]any{
			{"ID": int64(2), "NAME": "Manet"},
			{"ID": int64(1), "NAME": "Monet"},
		}))
	})

	It("reports affected rows", func() {
		tx := Must(s.Begin(ctx))
		defer tx.Rollback(ctx)
		Must(tx.Write(ctx, &store.Batch{Kind: store.Insert, Table: "ARTIST", Generated: "ID", Rows: []store.Row{
			{Values: map[string]any{"NAME": "Monet"}},
		}}))
		out := Must(tx.Write(ctx, &store.Batch{Kind: store.Update, Table: "ARTIST", Rows: []store.Row{
			{Values: map[string]any{"NAME": "Claude Monet"}, Qualifier: map[string]any{"ID": 1, "NAME": "Monet"}},
			{Values: map[string]any{"NAME": "Other"}, Qualifier: map[string]any{"ID": 1, "NAME": "Monet"}},
		}}))
		Expect(out[0].Affected).To(Equal(int64(1)))
		Expect(out[1].Affected).To(Equal(int64(0)))
	})

	It("converts booleans", func() {
		tx := Must(s.Begin(ctx))
		defer tx.Rollback(ctx)
		Must(tx.Write(ctx, &store.Batch{Kind: store.Insert, Table: "NOTE", Generated: "ID", Rows: []store.Row{
			{Values: map[string]any{"TEXT": "a", "DELETED": true}},
		}}))
		rows := Must(store.ReadAll(Must(tx.Select(ctx, &store.Select{Table: "NOTE"}))))
		Expect(rows[0]["DELETED"]).To(Equal(true))
		Expect(rows[0]["ARTIST_ID"]).To(BeNil())
	})

	It("enforces foreign keys", func() {
		tx := Must(s.Begin(ctx))
		defer tx.Rollback(ctx)
		_, err := tx.Write(ctx, &store.Batch{Kind: store.Insert, Table: "PAINTING", Generated: "ID", Rows: []store.Row{
			{Values: map[string]any{"TITLE": "x", "ARTIST_ID": 42}},
		}})
		Expect(err).To(HaveOccurred())
		Expect(strings.ToUpper(err.Error())).To(ContainSubstring("FOREIGN KEY"))
	})
})
