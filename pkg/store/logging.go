package store

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/store", "row store access")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
