package persistent

import (
	"errors"
	"fmt"

	"github.com/mandelsoft/objectgraph/pkg/oid"
)

const (
	KindIdentityConflict = "identity-conflict"
	KindDeleteDeny       = "delete-deny"
	KindOptimisticLock   = "optimistic-lock"
	KindFaultFailure     = "fault-failure"
	KindValidation       = "validation"
	KindStore            = "store"
	KindGeneric          = "error"
)

// ErrorInfo is the serializable form of the error taxonomy.
type ErrorInfo struct {
	Kind         string         `json:"kind"`
	Entity       string         `json:"entity,omitempty"`
	Id           *oid.ObjectId  `json:"id,omitempty"`
	Related      *oid.ObjectId  `json:"related,omitempty"`
	Relationship string         `json:"relationship,omitempty"`
	Statement    string         `json:"statement,omitempty"`
	Operation    string         `json:"operation,omitempty"`
	Values       map[string]any `json:"values,omitempty"`
	Message      string         `json:"message"`
}

// DescribeError maps an error to its serializable form.
func DescribeError(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: KindGeneric, Message: err.Error()}
	var (
		ic *IdentityConflictError
		dd *DeleteDenyError
		ol *OptimisticLockError
		ff *FaultFailureError
		ve *ValidationError
		se *StoreError
	)
	switch {
	case errors.As(err, &ic):
		info.Kind, info.Entity, info.Id = KindIdentityConflict, ic.Entity, ic.Id.Ref()
	case errors.As(err, &dd):
		info.Kind, info.Entity, info.Id = KindDeleteDeny, dd.Entity, dd.Id.Ref()
		info.Relationship, info.Related = dd.Relationship, dd.Related.Ref()
	case errors.As(err, &ol):
		info.Kind, info.Entity, info.Id = KindOptimisticLock, ol.Entity, ol.Id.Ref()
		info.Statement, info.Values = ol.Statement, ol.Values
	case errors.As(err, &ff):
		info.Kind, info.Entity, info.Id = KindFaultFailure, ff.Entity, ff.Id.Ref()
		info.Relationship = ff.Relationship
	case errors.As(err, &ve):
		info.Kind, info.Entity, info.Id = KindValidation, ve.Entity, ve.Id.Ref()
		info.Relationship, info.Message = ve.Property, ve.Message
	case errors.As(err, &se):
		info.Kind, info.Entity, info.Id = KindStore, se.Entity, se.Id.Ref()
		info.Operation = se.Operation
		if se.Cause != nil {
			info.Message = se.Cause.Error()
		}
	}
	return info
}

// Err rebuilds the typed error.
func (i *ErrorInfo) Err() error {
	if i == nil {
		return nil
	}
	id := func(p *oid.ObjectId) oid.ObjectId {
		if p == nil {
			return oid.ObjectId{}
		}
		return *p
	}
	switch i.Kind {
	case KindIdentityConflict:
		return &IdentityConflictError{Entity: i.Entity, Id: id(i.Id)}
	case KindDeleteDeny:
		return &DeleteDenyError{Entity: i.Entity, Id: id(i.Id), Relationship: i.Relationship, Related: id(i.Related)}
	case KindOptimisticLock:
		return &OptimisticLockError{Entity: i.Entity, Id: id(i.Id), Statement: i.Statement, Values: i.Values}
	case KindFaultFailure:
		return &FaultFailureError{Entity: i.Entity, Id: id(i.Id), Relationship: i.Relationship}
	case KindValidation:
		return &ValidationError{Entity: i.Entity, Id: id(i.Id), Property: i.Relationship, Message: i.Message}
	case KindStore:
		return &StoreError{Entity: i.Entity, Id: id(i.Id), Operation: i.Operation, Cause: errors.New(i.Message)}
	}
	return fmt.Errorf("%s", i.Message)
}
