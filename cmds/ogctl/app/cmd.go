package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mandelsoft/goutils/general"
	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/spf13/cobra"

	"github.com/mandelsoft/objectgraph/pkg/access"
	"github.com/mandelsoft/objectgraph/pkg/ctxutil"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/remote"
)

const DefaultTimeout = 30 * time.Second

type Options struct {
	address string
	timeout time.Duration
	fs      vfs.FileSystem
}

// Context provides the context for a request sequence limited
// by the configured timeout.
func (o *Options) Context(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctxutil.TimeoutContext(ctx, o.timeout)
}

// GetURL provides the websocket URL of an endpoint of the server.
func (o *Options) GetURL(endpoint string) (string, error) {
	a := o.address
	if !strings.Contains(a, "://") {
		a = "http://" + a
	}
	u, err := url.Parse(a)
	if err != nil {
		return "", fmt.Errorf("invalid server address %q: %w", o.address, err)
	}
	scheme := "ws"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, u.Host, strings.TrimPrefix(endpoint, "/")), nil
}

// Connect connects to the object endpoint of the server.
func (o *Options) Connect(ctx context.Context) (*remote.Client, error) {
	u, err := o.GetURL("objects")
	if err != nil {
		return nil, err
	}
	return remote.Connect(ctx, u)
}

func (o *Options) descriptor(c *remote.Client, entity string) (*metadata.Descriptor, error) {
	return c.Resolver().Descriptor(entity)
}

// lookup provides the inflated object for a textual key.
func lookup(ctx context.Context, oc *objectcontext.Context, d *metadata.Descriptor, key string) (*persistent.Object, error) {
	id, err := access.KeyFor(d, key)
	if err != nil {
		return nil, err
	}
	o, err := oc.LocalObject(id, d.Name())
	if err != nil {
		return nil, err
	}
	if err := oc.PrepareForAccess(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func New(fss ...vfs.FileSystem) *cobra.Command {
	opts := &Options{
		timeout: DefaultTimeout,
		fs:      general.OptionalDefaulted(vfs.FileSystem(osfs.New()), fss...),
	}
	opts.address = GetConfig(opts.fs).Server

	maincmd := &cobra.Command{
		Use:   "ogctl <options> <cmd> <args>",
		Short: "access an object server",
		Long: `
This command can be used to check models and to read and
manipulate the objects of an object server.
`,
		SilenceUsage:     true,
		TraverseChildren: true,
	}

	flags := maincmd.PersistentFlags()
	flags.StringVarP(&opts.address, "server", "s", opts.address, "object server")
	flags.DurationVarP(&opts.timeout, "timeout", "t", opts.timeout, "request timeout")

	maincmd.AddCommand(NewModel(opts))
	maincmd.AddCommand(NewGet(opts))
	maincmd.AddCommand(NewSet(opts))
	maincmd.AddCommand(NewDelete(opts))
	maincmd.AddCommand(NewWatch(opts))
	return maincmd
}
