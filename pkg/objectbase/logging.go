package objectbase

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/objectbase", "store based object base")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
