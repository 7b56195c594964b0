package batch

import (
	"context"
	"fmt"
	"maps"

	"github.com/mandelsoft/goutils/general"
	"github.com/mandelsoft/logging"

	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// Replacement maps a temporary or outdated id to the
// permanent id of a row.
type Replacement struct {
	Old oid.ObjectId `json:"old"`
	New oid.ObjectId `json:"new"`
}

// Written describes a row written by an operation.
type Written struct {
	Kind   store.Kind
	Soft   bool
	Entity string
	// Id is the permanent id after the operation.
	Id oid.ObjectId
	// Previous is the id before the operation.
	Previous oid.ObjectId
	// Values are the written column values.
	Values map[string]any
}

type Result struct {
	Replacements []Replacement
	Written      []*Written
	// Executions is the number of store calls.
	Executions int
}

// Executor executes row operations in a store transaction.
// Key references are resolved as soon as the referenced keys
// are known. Inserts with generated keys are executed one by
// one, other operations are batched if the store supports it.
type Executor struct {
	res  *metadata.Resolver
	tx   store.Transaction
	caps store.Capabilities
	log  logging.Logger
	keys map[string]oid.ObjectId
}

func NewExecutor(res *metadata.Resolver, tx store.Transaction, caps store.Capabilities, logger ...logging.Logger) *Executor {
	l := general.OptionalDefaulted[logging.Logger](log, logger...)
	return &Executor{
		res:  res,
		tx:   tx,
		caps: caps,
		log:  l,
		keys: map[string]oid.ObjectId{},
	}
}

type pending struct {
	op  *Operation
	row store.Row
}

func (e *Executor) Execute(ctx context.Context, ops []*Operation) (*Result, error) {
	result := &Result{}
	var batch *store.Batch
	var rows []pending

	flush := func() error {
		if batch == nil {
			return nil
		}
		b, list := batch, rows
		batch, rows = nil, nil
		result.Executions++
		e.log.Trace("executing {{batch}}", "batch", b)
		outcomes, err := e.tx.Write(ctx, b)
		for i, o := range outcomes {
			if i >= len(list) {
				break
			}
			if err := e.outcome(result, list[i], o); err != nil {
				return err
			}
		}
		if err != nil {
			failed := list[min(len(outcomes), len(list)-1)].op
			return &persistent.StoreError{Entity: failed.Entity, Id: failed.Id, Operation: string(b.Kind), Cause: err}
		}
		if len(outcomes) != len(list) {
			return &persistent.StoreError{Entity: list[0].op.Entity, Operation: string(b.Kind), Cause: fmt.Errorf("expected %d outcomes, but got %d", len(list), len(outcomes))}
		}
		return nil
	}

	for _, op := range ops {
		row, err := e.resolve(op)
		if err != nil && batch != nil {
			if ferr := flush(); ferr != nil {
				return result, ferr
			}
			row, err = e.resolve(op)
		}
		if err != nil {
			return result, err
		}
		single := op.Generated != "" || !e.caps.Batching
		if batch != nil && (single || batch.Kind != op.Kind || batch.Table != op.Table) {
			if err := flush(); err != nil {
				return result, err
			}
		}
		if batch == nil {
			batch = &store.Batch{Kind: op.Kind, Table: op.Table, Generated: op.Generated}
		}
		batch.Rows = append(batch.Rows, row)
		rows = append(rows, pending{op: op, row: row})
		if op.Kind == store.Insert && op.Generated == "" {
			if err := e.register(op, row.Values); err != nil {
				return result, err
			}
		}
		if single {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	return result, flush()
}

func (e *Executor) resolveValues(values map[string]any) (map[string]any, error) {
	if values == nil {
		return nil, nil
	}
	r := make(map[string]any, len(values))
	for c, v := range values {
		if ref, ok := v.(KeyRef); ok {
			id, ok := e.keys[ref.Id.Key()]
			if !ok {
				return nil, fmt.Errorf("key of %s not yet known", ref.Id)
			}
			v = id.Value(ref.Column)
		}
		r[c] = v
	}
	return r, nil
}

func (e *Executor) resolve(op *Operation) (store.Row, error) {
	values, err := e.resolveValues(op.Values)
	if err != nil {
		return store.Row{}, err
	}
	q, err := e.resolveValues(op.Qualifier)
	if err != nil {
		return store.Row{}, err
	}
	return store.Row{Values: values, Qualifier: q}, nil
}

func (e *Executor) register(op *Operation, values map[string]any) error {
	d, err := e.res.Descriptor(op.Entity)
	if err != nil {
		return err
	}
	id, ok := d.IdFromRow(values)
	if !ok {
		return fmt.Errorf("incomplete key for new %s %s", op.Entity, op.Id)
	}
	e.keys[op.Id.Key()] = id
	return nil
}

func (e *Executor) outcome(result *Result, p pending, o store.Outcome) error {
	op := p.op
	w := &Written{Kind: op.Kind, Soft: op.Soft, Entity: op.Entity, Id: op.Id, Previous: op.Id, Values: p.row.Values}

	switch op.Kind {
	case store.Insert:
		if op.Generated != "" {
			if utils.IsNil(o.GeneratedKey) {
				return &persistent.StoreError{Entity: op.Entity, Id: op.Id, Operation: string(op.Kind), Cause: fmt.Errorf("no generated key for %s", op.Generated)}
			}
			w.Values = maps.Clone(w.Values)
			w.Values[op.Generated] = utils.NormalizeValue(o.GeneratedKey)
			if err := e.register(op, w.Values); err != nil {
				return err
			}
		}
		w.Id = e.keys[op.Id.Key()]
	default:
		if o.Affected == 0 {
			if op.Locked {
				e.log.Debug("optimistic lock failure for {{operation}}", "operation", op)
				return &persistent.OptimisticLockError{Entity: op.Entity, Id: op.Id, Statement: o.Statement, Values: p.row.Values}
			}
			e.log.Info("no row affected by {{operation}}", "operation", op)
		}
		if op.Kind == store.Update && !op.Soft {
			id, err := e.updatedId(op, p.row.Values)
			if err != nil {
				return err
			}
			w.Id = id
		}
	}
	if !w.Id.Equal(w.Previous) {
		result.Replacements = append(result.Replacements, Replacement{Old: w.Previous, New: w.Id})
	}
	result.Written = append(result.Written, w)
	return nil
}

// updatedId determines the id of a row after an update
// modifying key columns.
func (e *Executor) updatedId(op *Operation, values map[string]any) (oid.ObjectId, error) {
	d, err := e.res.Descriptor(op.Entity)
	if err != nil {
		return oid.ObjectId{}, err
	}
	changed := false
	key := op.Id.Values()
	for _, c := range d.PrimaryKey {
		if v, ok := values[c]; ok && !utils.EqualValues(v, key[c]) {
			key = maps.Clone(key)
			key[c] = v
			changed = true
		}
	}
	if !changed {
		return op.Id, nil
	}
	id, ok := d.IdFromRow(key)
	if !ok {
		return oid.ObjectId{}, fmt.Errorf("key of %s %s cleared", op.Entity, op.Id)
	}
	return id, nil
}
