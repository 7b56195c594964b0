package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mandelsoft/objectgraph/pkg/access"
	"github.com/mandelsoft/objectgraph/pkg/ctxutil"
	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/query"
)

type Get struct {
	cmd *cobra.Command

	mainopts *Options
	where    []string
	query    string
	sort     string
	desc     bool
	output   string
}

func NewGet(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <entity> {<key>} <options>",
		Short: "get objects from the object server",
		Args:  cobra.MinimumNArgs(1),
	}
	c := &Get{
		cmd:      cmd,
		mainopts: opts,
	}
	c.cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(cmd.Context(), args) }
	flags := cmd.Flags()
	flags.StringArrayVarP(&c.where, "where", "w", nil, "attribute filter (<attribute>=<value>)")
	flags.StringVarP(&c.query, "query", "q", "", "qualifier (for example \"price > 100 and gallery is null\")")
	flags.StringVarP(&c.sort, "sort", "S", "", "sort attribute")
	flags.BoolVarP(&c.desc, "descending", "D", false, "descending sort order")
	flags.StringVarP(&c.output, "output", "o", "", "output format (json, yaml)")
	return cmd
}

func (c *Get) Run(ctx context.Context, args []string) error {
	ctx = c.mainopts.Context(ctx)
	defer ctxutil.Cancel(ctx)
	client, err := c.mainopts.Connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	d, err := c.mainopts.descriptor(client, args[0])
	if err != nil {
		return err
	}
	oc := objectcontext.New(client, objectcontext.WithName("ogctl"))

	var objs []*persistent.Object
	if len(args) > 1 {
		if len(c.where) > 0 || c.query != "" {
			return fmt.Errorf("filter not possible for explicit keys")
		}
		for _, key := range args[1:] {
			o, err := lookup(ctx, oc, d, key)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			objs = append(objs, o)
		}
	} else {
		f, err := access.Filter(d, c.where...)
		if err != nil {
			return err
		}
		q, err := expr.Parse(c.query)
		if err != nil {
			return err
		}
		f = expr.And(f, q)
		var orderings []query.Ordering
		if c.sort != "" {
			if c.desc {
				orderings = append(orderings, query.Desc(c.sort))
			} else {
				orderings = append(orderings, query.Asc(c.sort))
			}
		}
		objs, err = oc.Select(ctx, d.Name(), f, orderings...)
		if err != nil {
			return err
		}
	}

	var list []*access.ObjectData
	for _, o := range objs {
		data, err := access.DataFor(ctx, o)
		if err != nil {
			return err
		}
		list = append(list, data)
	}
	return Output(c.cmd.OutOrStdout(), c.output, d, list)
}
