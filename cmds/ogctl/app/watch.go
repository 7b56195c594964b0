package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mandelsoft/objectgraph/pkg/remote"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
)

type Watch struct {
	cmd *cobra.Command

	mainopts *Options
}

func NewWatch(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch {<entity>}",
		Short: "watch object changes",
	}
	c := &Watch{
		cmd:      cmd,
		mainopts: opts,
	}
	c.cmd.RunE = func(cmd *cobra.Command, args []string) error { return c.Run(cmd.Context(), args) }
	return cmd
}

func (c *Watch) Run(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	u, err := c.mainopts.GetURL("watch")
	if err != nil {
		return err
	}
	s, err := Consume(ctx, c.cmd.OutOrStdout(), u, args...)
	if err != nil {
		return err
	}
	return s.Wait()
}

// Consume prints the events for the given root entities
// (all, if none is given) as JSON lines.
func Consume(ctx context.Context, w io.Writer, address string, entities ...string) (remote.Syncher, error) {
	return remote.Watch(ctx, address, remote.WatchRequest{Entities: entities}, &handler{w: w})
}

type handler struct {
	lock sync.Mutex
	w    io.Writer
}

func (h *handler) HandleEvent(e *snapshot.Event) {
	h.lock.Lock()
	defer h.lock.Unlock()
	data, _ := json.Marshal(e)
	fmt.Fprintf(h.w, "%s\n", string(data))
}
