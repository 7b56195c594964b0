package channel

import (
	"context"
	"fmt"

	"github.com/mandelsoft/objectgraph/pkg/batch"
	"github.com/mandelsoft/objectgraph/pkg/graph"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/query"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// Channel is the source of rows and the sink of changes of an
// object context. It is implemented by the store based object
// base, by object contexts for nested contexts and by the
// remote client.
type Channel interface {
	Resolver() *metadata.Resolver
	OnQuery(ctx context.Context, q *query.Query) (*QueryResponse, error)
	OnSync(ctx context.Context, req *SyncRequest) (*SyncResponse, error)
}

// Row is a row image of an object as transferred between channels.
type Row struct {
	Id      oid.ObjectId   `json:"id"`
	Entity  string         `json:"entity"`
	Version uint64         `json:"version,omitempty"`
	Values  map[string]any `json:"values,omitempty"`
}

func RowFor(s *snapshot.Snapshot) *Row {
	return &Row{Id: s.Id(), Entity: s.Entity(), Version: s.Version(), Values: s.Values()}
}

// Snapshot provides the snapshot described by the row.
func (r *Row) Snapshot() *snapshot.Snapshot {
	return snapshot.New(r.Id, r.Entity, utils.NormalizeMap(r.Values), r.Version)
}

func (r *Row) String() string {
	return fmt.Sprintf("%s %s(%d)", r.Entity, r.Id, r.Version)
}

type QueryResponse struct {
	Rows []*Row `json:"rows"`
}

type SyncType string

const (
	// Flush applies the changes to the channel without
	// persisting them.
	Flush SyncType = "flush"
	// Commit persists the changes.
	Commit SyncType = "commit"
)

// SyncRequest transfers the changes of an object context.
type SyncRequest struct {
	Type SyncType    `json:"type"`
	Diff *graph.Diff `json:"diff"`
	// Baselines are the row images the changed objects are based on.
	Baselines []*Row `json:"baselines,omitempty"`
}

// BaselineMap provides the baselines by identity key.
func (r *SyncRequest) BaselineMap() map[string]*snapshot.Snapshot {
	m := map[string]*snapshot.Snapshot{}
	for _, b := range r.Baselines {
		m[b.Id.Key()] = b.Snapshot()
	}
	return m
}

type SyncResponse struct {
	// Replacements map temporary or outdated ids to the
	// permanent ids.
	Replacements []batch.Replacement `json:"replacements,omitempty"`
	// Snapshots are the new row images of inserted and
	// updated objects.
	Snapshots []*Row `json:"snapshots,omitempty"`
	// Deleted lists the identities of removed rows.
	Deleted []oid.ObjectId `json:"deleted,omitempty"`
}

// Replacement returns the replacement for an id.
func (r *SyncResponse) Replacement(id oid.ObjectId) (oid.ObjectId, bool) {
	for _, e := range r.Replacements {
		if e.Old.Equal(id) {
			return e.New, true
		}
	}
	return id, false
}
