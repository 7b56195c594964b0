package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mandelsoft/objectgraph/pkg/ctxutil"
	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
)

type Delete struct {
	cmd *cobra.Command

	mainopts *Options
}

func NewDelete(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <entity> {<key>}",
		Short: "delete objects applying the delete rules of their relationships",
		Args:  cobra.MinimumNArgs(2),
	}
	c := &Delete{
		cmd:      cmd,
		mainopts: opts,
	}
	c.cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(cmd.Context(), args) }
	return cmd
}

func (c *Delete) Run(ctx context.Context, args []string) error {
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
	for _, key := range args[1:] {
		o, err := lookup(ctx, oc, d, key)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		objs = append(objs, o)
	}
	if err := oc.DeleteObjects(ctx, objs...); err != nil {
		return err
	}
	deleted := oc.DirtyObjects(persistent.Deleted)
	if err := oc.CommitChanges(ctx); err != nil {
		return err
	}
	for _, o := range deleted {
		fmt.Fprintf(c.cmd.OutOrStdout(), "%s: deleted\n", o.Id())
	}
	return nil
}
