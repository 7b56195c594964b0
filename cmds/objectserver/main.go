package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mandelsoft/logging"
	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/mandelsoft/objectgraph/pkg/access"
	"github.com/mandelsoft/objectgraph/pkg/healthz"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/objectbase"
	"github.com/mandelsoft/objectgraph/pkg/remote"
	"github.com/mandelsoft/objectgraph/pkg/server"
	"github.com/mandelsoft/objectgraph/pkg/service"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
	"github.com/mandelsoft/objectgraph/pkg/snapshot/redisbridge"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/store/filesystem"
	"github.com/mandelsoft/objectgraph/pkg/store/memory"
	"github.com/mandelsoft/objectgraph/pkg/store/sqlstore"
)

func Error(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+msg+"\n", args...)
	os.Exit(1)
}

type Config struct {
	Port      int
	Models    string
	Driver    string
	DSN       string
	Redis     string
	CacheSize int
	Level     string
}

func main() {
	cfg := Config{
		Port:      8080,
		Models:    "models",
		Driver:    "memory",
		DSN:       "data",
		CacheSize: snapshot.DefaultSize,
		Level:     "info",
	}

	flags := pflag.NewFlagSet("objectserver", pflag.ExitOnError)

	flags.IntVarP(&cfg.Port, "port", "p", cfg.Port, "server port")
	flags.StringVarP(&cfg.Models, "models", "m", cfg.Models, "model file or directory")
	flags.StringVarP(&cfg.Driver, "driver", "d", cfg.Driver, "store driver (memory, filesystem, sqlite, postgres)")
	flags.StringVarP(&cfg.DSN, "dsn", "D", cfg.DSN, "data source (directory for filesystem)")
	flags.StringVarP(&cfg.Redis, "redis", "r", "", "redis address for cross process cache invalidation")
	flags.IntVarP(&cfg.CacheSize, "cache-size", "c", cfg.CacheSize, "maximum number of cached snapshots")
	flags.StringVarP(&cfg.Level, "log-level", "L", cfg.Level, "log level")

	err := flags.Parse(os.Args[1:])
	if err != nil {
		Error("invalid arguments: %s", err)
	}

	l, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		Error("invalid log level %q", cfg.Level)
	}
	lctx := logging.DefaultContext()
	lctx.AddRule(logging.NewConditionRule(l, logging.NewRealmPrefix("objectgraph")))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, &cfg); err != nil {
		Error("%s", err)
	}
}

func storeSpecification(cfg *Config) (store.Specification, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewSpecification(), nil
	case "filesystem":
		return filesystem.NewSpecification(cfg.DSN), nil
	case "sqlite", "postgres":
		return &sqlstore.Specification{Driver: cfg.Driver, DSN: cfg.DSN, CreateTables: true}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func run(ctx context.Context, cfg *Config) error {
	fs := osfs.New()
	model, err := metadata.LoadModel(fs, cfg.Models)
	if err != nil {
		return fmt.Errorf("cannot load models: %w", err)
	}
	res, err := metadata.NewResolver(model)
	if err != nil {
		return fmt.Errorf("invalid models: %w", err)
	}
	schema, err := store.SchemaFor(res)
	if err != nil {
		return err
	}
	spec, err := storeSpecification(cfg)
	if err != nil {
		return err
	}
	st, err := spec.Create(ctx, schema)
	if err != nil {
		return fmt.Errorf("cannot create store: %w", err)
	}
	defer st.Close()
	log.Info("using store {{store}} with {{entities}} entities", "store", st.Name(), "entities", len(res.Entities()))

	cache := snapshot.NewCache(cfg.CacheSize)
	base := objectbase.New(res, st, objectbase.WithCache(cache))

	if cfg.Redis != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis})
		defer client.Close()
		healthz.AddDependency("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		bridge := redisbridge.NewRedis(cache, client)
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("cannot start redis bridge: %w", err)
		}
		defer bridge.Stop()
	}
	if db, ok := st.(*sqlstore.Store); ok {
		healthz.AddDependency("store", func(ctx context.Context) error {
			return db.DB().PingContext(ctx)
		})
	}

	srv := server.NewServer(cfg.Port, true, 20*time.Second)
	objects := remote.NewServer(base)
	defer objects.Close()
	watch := remote.NewWatchHandler(cache)
	defer watch.Close()

	srv.Handle("/objects", objects)
	srv.Handle("/watch", watch)
	access.New(base, "/data").RegisterHandler(srv)
	if ok, _ := vfs.IsDir(fs, cfg.Models); ok {
		h, err := server.NewDirectoryHandlerFor(cfg.Models, "/models")
		if err != nil {
			return err
		}
		h.RegisterHandler(srv)
	}

	reg := service.New(ctx)
	if err := reg.Add(srv); err != nil {
		return err
	}
	if err := reg.Start(); err != nil {
		return fmt.Errorf("cannot start services: %w", err)
	}
	healthz.Ticker(ctx, "objectserver", 10*time.Second)
	return reg.Wait()
}
