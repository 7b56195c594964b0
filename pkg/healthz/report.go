package healthz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/healthz", "server health monitoring")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)

// Dependency checks a component, for example the reachability of a store.
type Dependency func(ctx context.Context) error

type check struct {
	last    time.Time
	timeout time.Duration
}

var (
	lock         sync.Mutex
	checks       = map[string]*check{}
	dependencies = map[string]Dependency{}
)

// Start configures a tick based check. The check fails if it
// has not been ticked for three periods.
func Start(key string, period time.Duration) {
	lock.Lock()
	defer lock.Unlock()

	checks[key] = &check{time.Now(), 3 * period}
}

func Tick(key string) {
	lock.Lock()
	defer lock.Unlock()

	c := checks[key]
	if c == nil {
		panic(fmt.Sprintf("check with key %q not configured", key))
	}
	c.last = time.Now()
}

func End(key string) {
	lock.Lock()
	defer lock.Unlock()

	delete(checks, key)
}

// Ticker starts a check and ticks it until the context is done.
func Ticker(ctx context.Context, key string, period time.Duration) {
	Start(key, period)
	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				End(key)
				return
			case <-t.C:
				Tick(key)
			}
		}
	}()
}

// AddDependency registers a dependency check evaluated for every health request.
func AddDependency(key string, p Dependency) {
	lock.Lock()
	defer lock.Unlock()

	dependencies[key] = p
}

func RemoveDependency(key string) {
	lock.Lock()
	defer lock.Unlock()

	delete(dependencies, key)
}

func IsHealthy(ctx context.Context) bool {
	ok, _ := HealthInfo(ctx)
	return ok
}

// HealthInfo evaluates all checks and dependencies and reports one line
// per key.
func HealthInfo(ctx context.Context) (bool, string) {
	lock.Lock()
	ticks := map[string]check{}
	for k, c := range checks {
		ticks[k] = *c
	}
	list := map[string]Dependency{}
	for k, p := range dependencies {
		list[k] = p
	}
	lock.Unlock()

	var lines []string
	ok := true
	now := time.Now()
	for key, c := range ticks {
		limit := now.Add(-c.timeout)
		if c.last.Before(limit) {
			log.Warn("outdated health check {{key}}", "key", key, "delay", limit.Sub(c.last))
			lines = append(lines, fmt.Sprintf("%s: outdated since %s", key, c.last.Format(time.RFC3339)))
			ok = false
		} else {
			log.Trace("last health report {{key}}", "key", key, "last", c.last)
			lines = append(lines, fmt.Sprintf("%s: %s", key, c.last.Format(time.RFC3339)))
		}
	}
	for key, p := range list {
		if err := p(ctx); err != nil {
			log.LogError(err, "dependency {{key}} failed", "key", key)
			lines = append(lines, fmt.Sprintf("%s: %s", key, err))
			ok = false
		} else {
			lines = append(lines, fmt.Sprintf("%s: ok", key))
		}
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return ok, ""
	}
	return ok, strings.Join(lines, "\n") + "\n"
}
