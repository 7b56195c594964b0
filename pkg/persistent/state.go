package persistent

import (
	"fmt"
)

// State is the persistence state of an object.
type State int

const (
	Transient State = iota
	New
	Committed
	Modified
	Deleted
	Hollow
)

var states = map[State]string{
	Transient: "TRANSIENT",
	New:       "NEW",
	Committed: "COMMITTED",
	Modified:  "MODIFIED",
	Deleted:   "DELETED",
	Hollow:    "HOLLOW",
}

func (s State) String() string {
	if n, ok := states[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsDirty checks whether an object in this state has to be
// considered by a commit.
func (s State) IsDirty() bool {
	return s == New || s == Modified || s == Deleted
}

// IsPersistent checks whether the object is backed by a row.
func (s State) IsPersistent() bool {
	return s == Committed || s == Modified || s == Deleted || s == Hollow
}
