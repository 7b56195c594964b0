package oid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mandelsoft/goutils/generics"
	"github.com/mandelsoft/goutils/maputils"

	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// ObjectId is the immutable identity of a persistent object.
// It is either temporary (a process-unique marker) or permanent
// (the primary key column values of the row).
//
// ObjectIds are not comparable with ==, use Equal or the Key
// for map access.
type ObjectId struct {
	entity string
	temp   string
	values map[string]any
	key    string
}

// NewTemporary creates a new unique temporary id for the given entity.
func NewTemporary(entity string) ObjectId {
	t := uuid.NewString()
	return ObjectId{
		entity: entity,
		temp:   t,
		key:    entity + ":TEMP:" + t,
	}
}

// New creates a permanent id from the given primary key values.
func New(entity string, values map[string]any) ObjectId {
	values = utils.NormalizeMap(values)
	c, err := utils.CanonicalJSON(values)
	if err != nil {
		c = fmt.Sprintf("%v", values)
	}
	return ObjectId{
		entity: entity,
		values: values,
		key:    entity + ":" + c,
	}
}

// NewSingle creates a permanent id for an entity with a single key column.
func NewSingle(entity, column string, value any) ObjectId {
	return New(entity, map[string]any{column: value})
}

func (id ObjectId) Entity() string {
	return id.entity
}

func (id ObjectId) IsZero() bool {
	return id.entity == ""
}

func (id ObjectId) IsTemporary() bool {
	return id.temp != ""
}

// Values returns a copy of the primary key values.
// Temporary ids do not have key values.
func (id ObjectId) Values() map[string]any {
	return maps.Clone(id.values)
}

func (id ObjectId) Value(column string) any {
	return id.values[column]
}

// Columns returns the sorted key column names.
func (id ObjectId) Columns() []string {
	return maputils.OrderedKeys(id.values)
}

// Key returns a string unique for the identity usable as map key.
func (id ObjectId) Key() string {
	return id.key
}

func (id ObjectId) Equal(o ObjectId) bool {
	return id.key == o.key
}

// WithEntity returns the same identity for another entity of the
// same inheritance hierarchy.
func (id ObjectId) WithEntity(entity string) ObjectId {
	if id.entity == entity {
		return id
	}
	if id.temp != "" {
		return ObjectId{entity: entity, temp: id.temp, key: entity + ":TEMP:" + id.temp}
	}
	return New(entity, id.values)
}

func (id ObjectId) String() string {
	if id.IsZero() {
		return "<none>"
	}
	if id.temp != "" {
		return fmt.Sprintf("%s<TEMP:%s>", id.entity, id.temp)
	}
	var parts []string
	for _, k := range id.Columns() {
		parts = append(parts, fmt.Sprintf("%s=%v", k, id.values[k]))
	}
	return fmt.Sprintf("%s<%s>", id.entity, strings.Join(parts, ","))
}

type wireId struct {
	Entity string         `json:"entity"`
	Temp   string         `json:"temp,omitempty"`
	Values map[string]any `json:"values,omitempty"`
}

func (id ObjectId) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(&wireId{Entity: id.entity, Temp: id.temp, Values: id.values})
}

func (id *ObjectId) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ObjectId{}
		return nil
	}
	var w wireId
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	if w.Entity == "" {
		return fmt.Errorf("object id without entity")
	}
	if w.Temp != "" {
		*id = ObjectId{entity: w.Entity, temp: w.Temp, key: w.Entity + ":TEMP:" + w.Temp}
		return nil
	}
	*id = New(w.Entity, w.Values)
	return nil
}

// Ref returns a pointer to a copy of the id, nil for the zero id.
func (id ObjectId) Ref() *ObjectId {
	if id.IsZero() {
		return nil
	}
	return generics.Pointer(id)
}

// Sort orders ids by their key.
func Sort(ids []ObjectId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].key < ids[j].key })
}
