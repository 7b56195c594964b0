package deleterule

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/deleterule", "delete rule propagation")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
