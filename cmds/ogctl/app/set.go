package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mandelsoft/objectgraph/pkg/access"
	"github.com/mandelsoft/objectgraph/pkg/ctxutil"
	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
)

type Set struct {
	cmd *cobra.Command

	mainopts *Options
}

func NewSet(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <entity> <key> {<attribute>=<value>}",
		Short: "set attributes of an object (key - creates a new object)",
		Args:  cobra.MinimumNArgs(3),
	}
	c := &Set{
		cmd:      cmd,
		mainopts: opts,
	}
	c.cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(cmd.Context(), args) }
	return cmd
}

func (c *Set) Run(ctx context.Context, args []string) error {
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
	values, err := access.ParseAssignments(d, args[2:]...)
	if err != nil {
		return err
	}

	oc := objectcontext.New(client, objectcontext.WithName("ogctl"))
	var o *persistent.Object
	if args[1] == access.NewKey {
		o, err = oc.NewObject(ctx, d.Name())
	} else {
		o, err = lookup(ctx, oc, d, args[1])
	}
	if err != nil {
		return err
	}
	if err := access.Apply(ctx, o, values); err != nil {
		return err
	}
	if err := oc.CommitChanges(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.cmd.OutOrStdout(), "%s: updated\n", o.Id())
	return nil
}
