package access

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/access", "textual object access")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
