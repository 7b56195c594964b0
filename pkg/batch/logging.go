package batch

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/batch", "batch translation and execution")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
