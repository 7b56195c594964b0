package snapshot

import (
	"bytes"
	"encoding/json"
	"maps"

	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// Snapshot is the immutable flat column->value image of a row
// as last known to be persisted, tagged with a version.
type Snapshot struct {
	id      oid.ObjectId
	entity  string
	values  map[string]any
	version uint64
}

func New(id oid.ObjectId, entity string, values map[string]any, version uint64) *Snapshot {
	return &Snapshot{
		id:      id,
		entity:  entity,
		values:  utils.NormalizeMap(values),
		version: version,
	}
}

func (s *Snapshot) Id() oid.ObjectId {
	return s.id
}

// Entity returns the most specific entity of the row.
func (s *Snapshot) Entity() string {
	return s.entity
}

func (s *Snapshot) Version() uint64 {
	return s.version
}

// Values returns a copy of the column values.
func (s *Snapshot) Values() map[string]any {
	return maps.Clone(s.values)
}

func (s *Snapshot) Get(column string) any {
	return s.values[column]
}

func (s *Snapshot) Has(column string) bool {
	_, ok := s.values[column]
	return ok
}

// WithVersion returns a copy of the snapshot with another version.
func (s *Snapshot) WithVersion(v uint64) *Snapshot {
	r := *s
	r.version = v
	return &r
}

// WithId returns a copy of the snapshot with another identity.
func (s *Snapshot) WithId(id oid.ObjectId) *Snapshot {
	r := *s
	r.id = id
	return &r
}

// SameValues compares the column values of two snapshots.
func (s *Snapshot) SameValues(values map[string]any) bool {
	if len(values) != len(s.values) {
		return false
	}
	for k, v := range values {
		o, ok := s.values[k]
		if !ok || !utils.EqualValues(o, v) {
			return false
		}
	}
	return true
}

// Merge returns a new snapshot with the given column values
// overriding the existing ones.
func (s *Snapshot) Merge(values map[string]any, version uint64) *Snapshot {
	n := maps.Clone(s.values)
	if n == nil {
		n = map[string]any{}
	}
	for k, v := range values {
		n[k] = utils.NormalizeValue(v)
	}
	return &Snapshot{id: s.id, entity: s.entity, values: n, version: version}
}

type wireSnapshot struct {
	Id      oid.ObjectId   `json:"id"`
	Entity  string         `json:"entity"`
	Values  map[string]any `json:"values"`
	Version uint64         `json:"version"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(&wireSnapshot{Id: s.id, Entity: s.entity, Values: s.values, Version: s.version})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	*s = *New(w.Id, w.Entity, w.Values, w.Version)
	return nil
}
