package metadata

import (
	"slices"

	"github.com/mandelsoft/goutils/maputils"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// dependencies computes the write order of the root entities.
// A root entity holding a foreign key to another root entity is ordered
// after the referenced one. Cycles are broken at the first back edge
// found, visiting entities in name order.
func (r *Resolver) dependencies() {
	deps := map[string]sets.Set[string]{}
	for _, d := range r.descriptors {
		set := deps[d.Root]
		if set == nil {
			set = sets.New[string]()
			deps[d.Root] = set
		}
		for _, p := range d.FKOwners() {
			if p.TargetRoot != d.Root {
				set.Insert(p.TargetRoot)
			}
		}
	}

	done := sets.New[string]()
	var visit func(n string, stack []string)
	visit = func(n string, stack []string) {
		if done.Has(n) {
			return
		}
		if c := utils.Cycle(n, stack...); c != nil {
			log.Info("foreign key cycle {{cycle}}", "cycle", c)
			r.cycles = append(r.cycles, c)
			return
		}
		stack = append(stack, n)
		for _, dep := range sets.List(deps[n]) {
			visit(dep, stack)
		}
		if !done.Has(n) {
			done.Insert(n)
			r.order = append(r.order, n)
		}
	}
	for _, n := range maputils.OrderedKeys(deps) {
		visit(n, nil)
	}
}

// WriteOrder returns the root entities in the order inserts have to be
// executed. Deletes have to be executed in the reverse order.
func (r *Resolver) WriteOrder() []string {
	return slices.Clone(r.order)
}

// OrderIndex returns the position of the hierarchy of the given
// entity in the write order.
func (r *Resolver) OrderIndex(entity string) int {
	d := r.descriptors[entity]
	if d == nil {
		return -1
	}
	return slices.Index(r.order, d.Root)
}

// Cycles returns the foreign key cycles found between root entities.
func (r *Resolver) Cycles() [][]string {
	return slices.Clone(r.cycles)
}

// IsReflexive checks whether a relationship connects an entity hierarchy
// with itself.
func (r *Resolver) IsReflexive(p *RelationshipProperty) bool {
	s := r.descriptors[p.Source]
	return s != nil && s.Root == p.TargetRoot
}
