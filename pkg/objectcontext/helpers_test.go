package objectcontext_test

import (
	"context"

	. "github.com/mandelsoft/goutils/testutils"

	. "github.com/mandelsoft/objectgraph/pkg/testutils"

	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/objectbase"
	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/store/memory"
)

var ctx = context.Background()

type env struct {
	res   *metadata.Resolver
	store *memory.Store
	base  *objectbase.ObjectBase
}

func newEnv() *env {
	res := ArtResolver()
	st := memory.New(Must(store.SchemaFor(res)))
	return &env{res: res, store: st, base: objectbase.New(res, st)}
}

func (e *env) context(opts ...objectcontext.Option) *objectcontext.Context {
	return objectcontext.New(e.base, opts...)
}

func create(c *objectcontext.Context, entity string, attrs ...any) *persistent.Object {
	o := Must(c.NewObject(ctx, entity))
	for i := 0; i+1 < len(attrs); i += 2 {
		MustBeSuccessful(o.Write(ctx, attrs[i].(string), attrs[i+1]))
	}
	return o
}

func selectOne(c *objectcontext.Context, entity, attr string, value any) *persistent.Object {
	list := Must(c.Select(ctx, entity, expr.Eq(attr, value)))
	if len(list) != 1 {
		return nil
	}
	return list[0]
}

func read(o *persistent.Object, attr string) any {
	return Must(o.Read(ctx, attr))
}
