package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mandelsoft/objectgraph/pkg/healthz"
)

var default_mux = http.NewServeMux()

func init() {
	Register("/healthz", http.HandlerFunc(healthz.Healthz))
	Register("/metrics", promhttp.Handler())
}

// Register adds a handler to the default mux served by all servers
// created with the default flag.
func Register(pattern string, handler http.Handler) {
	default_mux.Handle(pattern, handler)
}
