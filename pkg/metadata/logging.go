package metadata

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/metadata", "entity metadata")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
