package access

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/mandelsoft/goutils/maputils"

	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/objectcontext"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/server"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// NewKey is the key used to create new objects with POST.
const NewKey = "-"

// ObjectAccess is an HTTP handler providing access to the objects of
// a channel. Every request is executed in its own object context.
//
//	GET    <prefix>/<entity>?<attr>=<value>  list matching objects
//	GET    <prefix>/<entity>/<key>           get an object
//	POST   <prefix>/<entity>/<key>           update (or create with key "-")
//	DELETE <prefix>/<entity>/<key>           delete an object
type ObjectAccess struct {
	channel channel.Channel
	prefix  string
}

var _ http.Handler = (*ObjectAccess)(nil)

func New(ch channel.Channel, prefix string) *ObjectAccess {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ObjectAccess{
		channel: ch,
		prefix:  prefix,
	}
}

func (a *ObjectAccess) RegisterHandler(srv *server.Server) {
	srv.Handle(a.prefix, a)
}

type Error struct {
	Error string `json:"error"`
}

type Items struct {
	Items []*ObjectData `json:"items"`
}

func (a *ObjectAccess) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimSuffix(strings.TrimPrefix(req.URL.Path, a.prefix), "/")
	comps := strings.Split(path, "/")

	log.Debug("{{method}} {{path}}", "method", req.Method, "path", path)

	var (
		result any
		status int
		err    error
	)
	ctx := req.Context()
	switch {
	case path == "" || len(comps) > 2:
		status, err = http.StatusBadRequest, errors.New("invalid path: <entity>[/<key>] expected")
	case len(comps) == 1:
		if req.Method != http.MethodGet {
			status, err = http.StatusMethodNotAllowed, errors.New("method not allowed")
		} else {
			result, err = a.list(ctx, comps[0], req)
		}
	default:
		switch req.Method {
		case http.MethodGet:
			result, err = a.get(ctx, comps[0], comps[1])
		case http.MethodDelete:
			err = a.delete(ctx, comps[0], comps[1])
		case http.MethodPost:
			status = http.StatusOK
			if comps[1] == NewKey {
				status = http.StatusCreated
			}
			result, err = a.set(ctx, comps[0], comps[1], req)
		default:
			status, err = http.StatusMethodNotAllowed, errors.New("method not allowed")
		}
	}

	if err != nil {
		if status == 0 || status == http.StatusOK || status == http.StatusCreated {
			status = StatusFor(err)
		}
		log.LogError(err, "{{method}} {{path}} failed", "method", req.Method, "path", path)
		result = &Error{err.Error()}
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if result != nil {
		json.NewEncoder(w).Encode(result)
	}
}

// StatusFor maps object errors to HTTP status codes.
func StatusFor(err error) int {
	var (
		fault      *persistent.FaultFailureError
		deny       *persistent.DeleteDenyError
		lock       *persistent.OptimisticLockError
		validation *persistent.ValidationError
		model      *metadataError
	)
	switch {
	case errors.As(err, &fault):
		return http.StatusNotFound
	case errors.As(err, &deny), errors.As(err, &lock):
		return http.StatusConflict
	case errors.As(err, &validation), errors.As(err, &model):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type metadataError struct {
	error
}

func (a *ObjectAccess) context() *objectcontext.Context {
	return objectcontext.New(a.channel, objectcontext.WithName("access"))
}

func (a *ObjectAccess) object(ctx context.Context, oc *objectcontext.Context, entity, key string) (*persistent.Object, error) {
	d, err := oc.Resolver().Descriptor(entity)
	if err != nil {
		return nil, &metadataError{err}
	}
	id, err := KeyFor(d, key)
	if err != nil {
		return nil, &metadataError{err}
	}
	o, err := oc.LocalObject(id, entity)
	if err != nil {
		return nil, &metadataError{err}
	}
	if err := oc.PrepareForAccess(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (a *ObjectAccess) list(ctx context.Context, entity string, req *http.Request) (*Items, error) {
	oc := a.context()
	d, err := oc.Resolver().Descriptor(entity)
	if err != nil {
		return nil, &metadataError{err}
	}
	var args []string
	q := req.URL.Query()
	for _, k := range maputils.OrderedKeys(q) {
		for _, v := range q[k] {
			args = append(args, k+"="+v)
		}
	}
	f, err := Filter(d, args...)
	if err != nil {
		return nil, &metadataError{err}
	}
	objs, err := oc.Select(ctx, entity, f)
	if err != nil {
		return nil, err
	}
	items := &Items{Items: []*ObjectData{}}
	for _, o := range objs {
		data, err := DataFor(ctx, o)
		if err != nil {
			return nil, err
		}
		items.Items = append(items.Items, data)
	}
	return items, nil
}

func (a *ObjectAccess) get(ctx context.Context, entity, key string) (*ObjectData, error) {
	oc := a.context()
	o, err := a.object(ctx, oc, entity, key)
	if err != nil {
		return nil, err
	}
	return DataFor(ctx, o)
}

func (a *ObjectAccess) delete(ctx context.Context, entity, key string) error {
	oc := a.context()
	o, err := a.object(ctx, oc, entity, key)
	if err != nil {
		return err
	}
	if err := oc.DeleteObject(ctx, o); err != nil {
		return err
	}
	return oc.CommitChanges(ctx)
}

func (a *ObjectAccess) set(ctx context.Context, entity, key string, req *http.Request) (*ObjectData, error) {
	if t := req.Header.Get("Content-Type"); t != "" && t != "application/json" {
		return nil, &metadataError{errors.New("unsupported media type " + t)}
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	var values map[string]any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, &metadataError{err}
	}
	values = utils.NormalizeMap(values)

	oc := a.context()
	var o *persistent.Object
	if key == NewKey {
		o, err = oc.NewObject(ctx, entity)
	} else {
		o, err = a.object(ctx, oc, entity, key)
	}
	if err != nil {
		return nil, err
	}
	if err := Apply(ctx, o, values); err != nil {
		return nil, &metadataError{err}
	}
	if err := oc.CommitChanges(ctx); err != nil {
		return nil, err
	}
	return DataFor(ctx, o)
}
