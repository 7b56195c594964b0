package graph

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/graph", "object graph management")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
