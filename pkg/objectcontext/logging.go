package objectcontext

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/context", "object contexts")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
