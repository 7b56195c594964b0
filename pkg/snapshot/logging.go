package snapshot

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/snapshot", "snapshot cache")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
