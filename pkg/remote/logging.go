package remote

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/remote", "remote object base access")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
