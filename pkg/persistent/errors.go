package persistent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mandelsoft/goutils/maputils"

	"github.com/mandelsoft/objectgraph/pkg/oid"
)

var (
	ErrDetached       = errors.New("object not registered in a context")
	ErrInvalidState   = errors.New("invalid object state")
	ErrNotRegistered  = errors.New("object not registered")
	ErrForeignContext = errors.New("object belongs to another context")
)

// IdentityConflictError is raised if an identity is already
// bound to another instance.
type IdentityConflictError struct {
	Entity string
	Id     oid.ObjectId
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("identity conflict for %s %s: already bound to another instance", e.Entity, e.Id)
}

// DeleteDenyError is raised if an object cannot be deleted, because
// a relationship with delete rule deny still has related objects.
type DeleteDenyError struct {
	Entity       string
	Id           oid.ObjectId
	Relationship string
	Related      oid.ObjectId
}

func (e *DeleteDenyError) Error() string {
	return fmt.Sprintf("cannot delete %s %s: relationship %q still refers to %s", e.Entity, e.Id, e.Relationship, e.Related)
}

// OptimisticLockError is raised if a locked update or delete did not
// find the expected row state.
type OptimisticLockError struct {
	Entity    string
	Id        oid.ObjectId
	Statement string
	Values    map[string]any
	Cause     error
}

func (e *OptimisticLockError) Error() string {
	msg := fmt.Sprintf("optimistic lock failure for %s %s", e.Entity, e.Id)
	if e.Statement != "" {
		msg += fmt.Sprintf(" (statement: %s)", e.Statement)
	}
	if len(e.Values) > 0 {
		var parts []string
		for _, k := range maputils.OrderedKeys(e.Values) {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Values[k]))
		}
		msg += " attempted values: " + strings.Join(parts, ", ")
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *OptimisticLockError) Unwrap() error {
	return e.Cause
}

// FaultFailureError is raised if an object or relationship cannot be
// resolved, because the owning or referenced row does not exist anymore.
type FaultFailureError struct {
	Entity       string
	Id           oid.ObjectId
	Relationship string
	Cause        error
}

func (e *FaultFailureError) Error() string {
	msg := fmt.Sprintf("fault failure for %s %s", e.Entity, e.Id)
	if e.Relationship != "" {
		msg += fmt.Sprintf(" relationship %q", e.Relationship)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	} else {
		msg += ": row not found"
	}
	return msg
}

func (e *FaultFailureError) Unwrap() error {
	return e.Cause
}

// ValidationError is raised for objects violating model constraints.
type ValidationError struct {
	Entity   string
	Id       oid.ObjectId
	Property string
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s %s property %q: %s", e.Entity, e.Id, e.Property, e.Message)
}

// StoreError wraps failures of the store boundary with the
// operation and object it was raised for.
type StoreError struct {
	Entity    string
	Id        oid.ObjectId
	Operation string
	Cause     error
}

func (e *StoreError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("%s failed: %s", e.Operation, e.Cause)
	}
	return fmt.Sprintf("%s of %s %s failed: %s", e.Operation, e.Entity, e.Id, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ObjectError is a general error for an object.
type ObjectError struct {
	Entity string
	Id     oid.ObjectId
	Cause  error
}

func NewObjectError(o *Object, err error) error {
	return &ObjectError{Entity: o.Entity(), Id: o.Id(), Cause: err}
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.Id, e.Cause)
}

func (e *ObjectError) Unwrap() error {
	return e.Cause
}
