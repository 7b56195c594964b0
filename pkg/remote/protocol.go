package remote

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/graph"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/query"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

type Kind string

const (
	KindModel Kind = "model"
	KindQuery Kind = "query"
	KindSync  Kind = "sync"
)

// Request is a message sent by a client. The id is used to
// correlate the response and to detect repeated sync requests.
type Request struct {
	Id    string               `json:"id"`
	Kind  Kind                 `json:"kind"`
	Query *query.Query         `json:"query,omitempty"`
	Sync  *channel.SyncRequest `json:"sync,omitempty"`
}

func (r *Request) Validate() error {
	if r.Id == "" {
		return fmt.Errorf("request id missing")
	}
	switch r.Kind {
	case KindModel:
	case KindQuery:
		if r.Query == nil {
			return fmt.Errorf("query request %s without query", r.Id)
		}
		return r.Query.Validate()
	case KindSync:
		if r.Sync == nil || r.Sync.Diff == nil {
			return fmt.Errorf("sync request %s without diff", r.Id)
		}
	default:
		return fmt.Errorf("unknown request kind %q", r.Kind)
	}
	return nil
}

type Response struct {
	Id     string                 `json:"id"`
	Models []*metadata.Model      `json:"models,omitempty"`
	Query  *channel.QueryResponse `json:"query,omitempty"`
	Sync   *channel.SyncResponse  `json:"sync,omitempty"`
	Error  *persistent.ErrorInfo  `json:"error,omitempty"`
}

func errorResponse(id string, err error) *Response {
	return &Response{Id: id, Error: persistent.DescribeError(err)}
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// decode keeps numbers exact. Values are normalized afterwards to the
// value types used by the object layer.
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeRequest(data []byte) (*Request, error) {
	var r Request
	if err := decode(data, &r); err != nil {
		return nil, err
	}
	if r.Query != nil && r.Query.Select != nil {
		r.Query.Select.Qualifier = normalizeExpr(r.Query.Select.Qualifier)
	}
	if r.Sync != nil {
		normalizeDiff(r.Sync.Diff)
		normalizeRows(r.Sync.Baselines)
	}
	return &r, nil
}

func decodeResponse(data []byte) (*Response, error) {
	var r Response
	if err := decode(data, &r); err != nil {
		return nil, err
	}
	if r.Query != nil {
		normalizeRows(r.Query.Rows)
	}
	if r.Sync != nil {
		normalizeRows(r.Sync.Snapshots)
	}
	if r.Error != nil {
		r.Error.Values = utils.NormalizeMap(r.Error.Values)
	}
	return &r, nil
}

func normalizeRows(rows []*channel.Row) {
	for _, r := range rows {
		if r != nil {
			r.Values = utils.NormalizeMap(r.Values)
		}
	}
}

func normalizeDiff(d *graph.Diff) {
	if d == nil {
		return
	}
	for i := range d.Changes {
		d.Changes[i].Old = utils.NormalizeValue(d.Changes[i].Old)
		d.Changes[i].New = utils.NormalizeValue(d.Changes[i].New)
	}
}

func normalizeExpr(e *expr.Expression) *expr.Expression {
	if e == nil {
		return nil
	}
	e.Value = utils.NormalizeValue(e.Value)
	for i, v := range e.Values {
		e.Values[i] = utils.NormalizeValue(v)
	}
	for _, o := range e.Operands {
		normalizeExpr(o)
	}
	return e
}
