package server

import (
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/projectionfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// DirectoryHandler provides read access to a model directory below a
// URL prefix. Files are served with a content type derived from their
// extension. A directory is listed as a JSON array of its entry names,
// where sub directories end with a slash.
type DirectoryHandler struct {
	fs     vfs.FileSystem
	prefix string
}

var _ http.Handler = (*DirectoryHandler)(nil)

func NewDirectoryHandlerFor(dir, prefix string) (*DirectoryHandler, error) {
	fs, err := projectionfs.New(osfs.New(), dir)
	if err != nil {
		return nil, err
	}
	return NewDirectoryHandler(fs, prefix), nil
}

func NewDirectoryHandler(fs vfs.FileSystem, prefix string) *DirectoryHandler {
	return &DirectoryHandler{
		fs:     fs,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

func (d *DirectoryHandler) RegisterHandler(srv *Server) {
	srv.Handle(d.prefix+"/", d)
}

func (d *DirectoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := path.Clean("/" + strings.TrimPrefix(r.URL.Path, d.prefix))
	log.Debug("{{method}} model path {{path}}", "method", r.Method, "path", name)

	fi, err := d.fs.Stat(name)
	if err != nil {
		d.fail(w, name, err)
		return
	}

	var data []byte
	if fi.IsDir() {
		data, err = d.list(name)
		w.Header().Set("Content-Type", "application/json")
	} else {
		data, err = vfs.ReadFile(d.fs, name)
		w.Header().Set("Content-Type", contentType(name))
	}
	if err != nil {
		d.fail(w, name, err)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if r.Method == http.MethodGet {
		w.Write(data)
	}
}

func (d *DirectoryHandler) list(dir string) ([]byte, error) {
	entries, err := vfs.ReadDir(d.fs, dir)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
		} else {
			names = append(names, e.Name())
		}
	}
	return json.Marshal(names)
}

func (d *DirectoryHandler) fail(w http.ResponseWriter, name string, err error) {
	if vfs.IsErrNotExist(err) {
		http.Error(w, name+" not found", http.StatusNotFound)
		return
	}
	log.LogError(err, "cannot serve {{path}}", "path", name)
	http.Error(w, "cannot read "+name, http.StatusInternalServerError)
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".yaml", ".yml":
		return "application/yaml"
	case ".json":
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}
