package batch

import (
	"fmt"
	"strings"

	"github.com/mandelsoft/objectgraph/pkg/graph"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// FKChange is the new target of a foreign key stored in a row.
type FKChange struct {
	Columns    []string
	References []string
	// Target is nil, if the foreign key is cleared.
	Target *oid.ObjectId
}

// NodeChange is the net change of a single object described
// by a diff.
type NodeChange struct {
	Id      oid.ObjectId
	Entity  string
	Created bool
	Removed bool
	// Values are the changed attribute values by attribute name.
	Values map[string]any
	// FKs are the changed foreign keys by column set.
	FKs      map[string]*FKChange
	Baseline *snapshot.Snapshot
}

func (n *NodeChange) IsEmpty() bool {
	return !n.Created && !n.Removed && len(n.Values) == 0 && len(n.FKs) == 0
}

// ColumnValues returns the changed attribute values by column.
func (n *NodeChange) ColumnValues(d *metadata.Descriptor) map[string]any {
	values := map[string]any{}
	for name, v := range n.Values {
		values[d.Attribute(name).GetColumn()] = v
	}
	return values
}

func (n *NodeChange) String() string {
	return fmt.Sprintf("%s %s", n.Entity, n.Id)
}

func (n *NodeChange) setFK(cols, refs []string, target *oid.ObjectId, clear bool) {
	key := strings.Join(cols, ",")
	if clear {
		if cur := n.FKs[key]; cur != nil && cur.Target != nil && target != nil && !cur.Target.Equal(*target) {
			return
		}
		target = nil
	}
	n.FKs[key] = &FKChange{Columns: cols, References: refs, Target: target}
}

// Collect computes the net changes per object of a diff. The
// baselines are the row snapshots the changes are based on.
// Objects created and removed again are omitted.
func Collect(res *metadata.Resolver, diff *graph.Diff, baselines map[string]*snapshot.Snapshot) ([]*NodeChange, error) {
	nodes := map[string]*NodeChange{}
	var order []*NodeChange

	get := func(id oid.ObjectId, entity string) *NodeChange {
		n := nodes[id.Key()]
		if n == nil {
			n = &NodeChange{
				Id:       id,
				Entity:   entity,
				Values:   map[string]any{},
				FKs:      map[string]*FKChange{},
				Baseline: baselines[id.Key()],
			}
			if n.Baseline != nil {
				n.Entity = n.Baseline.Entity()
			}
			if n.Entity == "" {
				n.Entity = id.Entity()
			}
			nodes[id.Key()] = n
			order = append(order, n)
		}
		return n
	}

	for _, c := range diff.Changes {
		n := get(c.Node, c.Entity)
		d, err := res.Descriptor(n.Entity)
		if err != nil {
			return nil, err
		}
		switch c.Type {
		case graph.NodeCreated:
			n.Created, n.Removed = true, false
			if c.Entity != "" {
				n.Entity = c.Entity
			}
		case graph.NodeRemoved:
			n.Removed = true
		case graph.PropertyChanged:
			if d.Attribute(c.Property) == nil {
				return nil, fmt.Errorf("%w: attribute %q of %s", metadata.ErrUnknownProperty, c.Property, n.Entity)
			}
			n.Values[c.Property] = utils.NormalizeValue(c.New)
		case graph.ArcCreated, graph.ArcDeleted:
			if c.Target == nil {
				return nil, fmt.Errorf("arc change %s without target", c.Property)
			}
			clear := c.Type == graph.ArcDeleted
			switch p := d.Property(c.Property).(type) {
			case *metadata.ToOneProperty:
				if p.FKOwner {
					n.setFK(p.SourceColumns(), p.TargetColumns(), c.Target, clear)
				}
			case *metadata.ToManyProperty:
				if p.ReverseRelationship == nil {
					t := get(*c.Target, p.Target)
					t.setFK(p.TargetColumns(), p.SourceColumns(), c.Node.Ref(), clear)
				}
			default:
				return nil, fmt.Errorf("%w: relationship %q of %s", metadata.ErrUnknownProperty, c.Property, n.Entity)
			}
		default:
			return nil, fmt.Errorf("unknown change type %q", c.Type)
		}
	}

	var result []*NodeChange
	for _, n := range order {
		if n.Created && n.Removed || n.IsEmpty() {
			continue
		}
		result = append(result, n)
	}
	return result, nil
}
