package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/store/sqlstore"
)

func NewModel(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model <cmd>",
		Short: "handle model files",
	}
	cmd.AddCommand(NewModelCheck(opts))
	cmd.AddCommand(NewModelDDL(opts))
	return cmd
}

func loadResolver(opts *Options, path string) (*metadata.Resolver, error) {
	m, err := metadata.LoadModel(opts.fs, path)
	if err != nil {
		return nil, fmt.Errorf("cannot load model %q: %w", path, err)
	}
	return metadata.NewResolver(m)
}

type ModelCheck struct {
	cmd  *cobra.Command
	opts *Options
}

func NewModelCheck(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <model file or directory>",
		Short: "validate a model",
		Args:  cobra.ExactArgs(1),
	}
	c := &ModelCheck{cmd: cmd, opts: opts}
	cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(args) }
	return cmd
}

func (c *ModelCheck) Run(args []string) error {
	res, err := loadResolver(c.opts, args[0])
	if err != nil {
		return err
	}
	w := c.cmd.OutOrStdout()
	for _, root := range res.WriteOrder() {
		for _, n := range res.SubEntities(root) {
			d, err := res.Descriptor(n)
			if err != nil {
				return err
			}
			info := fmt.Sprintf("table %s, key %s (%s)", d.Table, strings.Join(d.PrimaryKey, ","), d.KeyStrategy)
			if d.Root != n {
				info += ", super " + d.Entity.Super
			}
			fmt.Fprintf(w, "%s: %s\n", n, info)
		}
	}
	for _, cycle := range res.Cycles() {
		fmt.Fprintf(w, "cycle: %s\n", strings.Join(cycle, " -> "))
	}
	fmt.Fprintf(w, "model ok\n")
	return nil
}

type ModelDDL struct {
	cmd    *cobra.Command
	opts   *Options
	driver string
}

func NewModelDDL(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ddl <model file or directory>",
		Short: "print the SQL DDL for a model",
		Args:  cobra.ExactArgs(1),
	}
	c := &ModelDDL{cmd: cmd, opts: opts}
	cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(args) }
	cmd.Flags().StringVarP(&c.driver, "driver", "d", "sqlite", "SQL dialect (sqlite, postgres)")
	return cmd
}

func (c *ModelDDL) Run(args []string) error {
	d, err := sqlstore.DialectFor(c.driver)
	if err != nil {
		return err
	}
	res, err := loadResolver(c.opts, args[0])
	if err != nil {
		return err
	}
	schema, err := store.SchemaFor(res)
	if err != nil {
		return err
	}
	for _, stmt := range sqlstore.DDL(d, schema) {
		fmt.Fprintf(c.cmd.OutOrStdout(), "%s;\n\n", stmt)
	}
	return nil
}
