package sqlstore

import (
	"github.com/mandelsoft/logging"
)

var REALM = logging.DefineRealm("objectgraph/store/sql", "sql row store")

var log = logging.DynamicLogger(logging.DefaultContext(), REALM)
