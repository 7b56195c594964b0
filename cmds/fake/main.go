package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mandelsoft/logging"
	"github.com/spf13/pflag"

	"github.com/mandelsoft/objectgraph/cmds/fake/random"
	"github.com/mandelsoft/objectgraph/pkg/remote"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
)

func Error(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+msg+"\n", args...)
	os.Exit(1)
}

func main() {
	var address = "localhost:8080"
	var count int
	var delay = time.Second
	var seed = time.Now().UnixNano()
	var consume bool
	var level = "info"

	flags := pflag.NewFlagSet("fake", pflag.ExitOnError)

	flags.StringVarP(&address, "server", "s", address, "object server address")
	flags.IntVarP(&count, "count", "n", count, "number of operations (0 for endless)")
	flags.DurationVarP(&delay, "delay", "d", delay, "delay between operations")
	flags.Int64VarP(&seed, "seed", "S", seed, "random seed")
	flags.BoolVarP(&consume, "consumer", "c", false, "print change events")
	flags.StringVarP(&level, "log-level", "L", level, "log level")

	err := flags.Parse(os.Args[1:])
	if err != nil {
		Error("invalid arguments: %s", err)
	}

	l, err := logging.ParseLevel(level)
	if err != nil {
		Error("invalid log level %q", level)
	}
	logging.DefaultContext().AddRule(logging.NewConditionRule(l, logging.NewRealmPrefix("objectgraph")))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	address = strings.TrimPrefix(strings.TrimPrefix(address, "http://"), "ws://")
	client, err := remote.Connect(ctx, fmt.Sprintf("ws://%s/objects", address))
	if err != nil {
		Error("cannot connect to %s: %s", address, err)
	}
	defer client.Close()

	if consume {
		_, err := remote.Watch(ctx, fmt.Sprintf("ws://%s/watch", address), remote.WatchRequest{}, snapshot.HandlerFunc(func(e *snapshot.Event) {
			data, _ := json.Marshal(e)
			fmt.Printf("%s\n", string(data))
		}))
		if err != nil {
			Error("cannot watch: %s", err)
		}
	}

	f := random.New(client, seed)
	if err := f.Run(ctx, count, delay); err != nil {
		Error("%s", err)
	}
	fmt.Printf("%d operations, %d conflicts\n", f.Steps, f.Conflicts)
}
