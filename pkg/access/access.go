package access

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/store"
)

// ParseValue converts the textual representation of a value
// for an attribute type. The text "null" is mapped to nil.
func ParseValue(typ string, s string) (any, error) {
	if s == "null" {
		return nil, nil
	}
	switch store.AttributeType(typ) {
	case store.TypeInt:
		return strconv.ParseInt(s, 10, 64)
	case store.TypeFloat:
		return strconv.ParseFloat(s, 64)
	case store.TypeBool:
		return strconv.ParseBool(s)
	case store.TypeTime:
		return time.Parse(time.RFC3339Nano, s)
	}
	return s, nil
}

func keyType(d *metadata.Descriptor, col string) string {
	if a := d.AttributeForColumn(col); a != nil {
		return a.Type
	}
	if d.KeyStrategy == metadata.KeyGenerated {
		return store.TypeInt
	}
	return store.TypeString
}

// KeyFor provides the identity for the textual key of an object.
// Compound keys are given as comma separated values in the order
// of the primary key columns.
func KeyFor(d *metadata.Descriptor, key string) (oid.ObjectId, error) {
	parts := strings.Split(key, ",")
	if len(parts) != len(d.PrimaryKey) {
		return oid.ObjectId{}, fmt.Errorf("entity %s requires %d key values, but %d given", d.Name(), len(d.PrimaryKey), len(parts))
	}
	values := map[string]any{}
	for i, col := range d.PrimaryKey {
		v, err := ParseValue(keyType(d, col), strings.TrimSpace(parts[i]))
		if err != nil {
			return oid.ObjectId{}, fmt.Errorf("invalid key value %q for %s.%s: %w", parts[i], d.Name(), col, err)
		}
		values[col] = v
	}
	return oid.New(d.Root, values), nil
}

// KeyString renders the key of an identity in the format
// accepted by KeyFor.
func KeyString(d *metadata.Descriptor, id oid.ObjectId) string {
	if id.IsTemporary() {
		return ""
	}
	var parts []string
	for _, col := range d.PrimaryKey {
		parts = append(parts, fmt.Sprintf("%v", id.Value(col)))
	}
	return strings.Join(parts, ",")
}

// ParseAssignments parses attribute assignments of the form
// <attribute>=<value>.
func ParseAssignments(d *metadata.Descriptor, args ...string) (map[string]any, error) {
	values := map[string]any{}
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid assignment %q: <attribute>=<value> expected", arg)
		}
		a := d.Attribute(name)
		if a == nil {
			return nil, fmt.Errorf("entity %s has no attribute %q", d.Name(), name)
		}
		v, err := ParseValue(a.Type, value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s.%s: %w", d.Name(), name, err)
		}
		values[name] = v
	}
	return values, nil
}

// Filter provides a qualifier matching all given attribute values.
func Filter(d *metadata.Descriptor, args ...string) (*expr.Expression, error) {
	values, err := ParseAssignments(d, args...)
	if err != nil {
		return nil, err
	}
	return expr.MatchValues(values), nil
}

// Apply writes attribute values to an object.
func Apply(ctx context.Context, o *persistent.Object, values map[string]any) error {
	for n, v := range values {
		if err := o.Write(ctx, n, v); err != nil {
			return err
		}
	}
	return nil
}

// ObjectData describes an object by its entity, key, attribute
// values and the keys of its to-one relationships.
type ObjectData struct {
	Entity        string            `json:"entity"`
	Key           string            `json:"key,omitempty"`
	Attributes    map[string]any    `json:"attributes"`
	Relationships map[string]string `json:"relationships,omitempty"`
}

// DataFor provides the data of an object. Related objects are
// resolved to determine their keys.
func DataFor(ctx context.Context, o *persistent.Object) (*ObjectData, error) {
	d := o.Descriptor()
	data := &ObjectData{
		Entity:     o.Entity(),
		Key:        KeyString(d, o.Id()),
		Attributes: map[string]any{},
	}
	for _, a := range d.Attributes {
		v, err := o.Read(ctx, a.Name)
		if err != nil {
			return nil, err
		}
		data.Attributes[a.Name] = v
	}
	for _, r := range d.ToOne {
		t, err := o.ToOne(ctx, r.Name)
		if err != nil {
			return nil, err
		}
		if t != nil {
			if data.Relationships == nil {
				data.Relationships = map[string]string{}
			}
			data.Relationships[r.Name] = t.Id().String()
		}
	}
	log.Trace("data for {{object}}", "object", o)
	return data, nil
}
