package metadata

import (
	"fmt"
)

var ErrUnknownEntity = fmt.Errorf("unknown entity")
var ErrUnknownProperty = fmt.Errorf("unknown property")

type ModelError struct {
	entity string
	msg    string
}

func NewModelError(entity string, msg string, args ...any) error {
	return &ModelError{entity, fmt.Sprintf(msg, args...)}
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("entity %q: %s", e.entity, e.msg)
}

func (e *ModelError) Entity() string {
	return e.entity
}
