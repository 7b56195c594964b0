package filesystem

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mandelsoft/goutils/general"
	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"sigs.k8s.io/yaml"

	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/store/memory"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// Store keeps the rows of every table as yaml files in a
// directory per table. Transactions are executed in memory and
// written to the filesystem on commit.
type Store struct {
	*memory.Store
	lock   sync.Mutex
	schema *store.Schema
	path   string
	fs     vfs.FileSystem
	// written holds the file content last written per path.
	written map[string][]byte
}

var _ store.Store = (*Store)(nil)

func New(schema *store.Schema, path string, fss ...vfs.FileSystem) (*Store, error) {
	fs := general.OptionalDefaulted(vfs.FileSystem(osfs.OsFs), fss...)

	err := fs.MkdirAll(path, 0o0700)
	if err != nil && !errors.Is(err, vfs.ErrExist) {
		return nil, err
	}

	s := &Store{schema: schema, path: path, fs: fs, written: map[string][]byte{}}
	s.Store = memory.New(schema, memory.WithName("filesystem"), memory.WithCommitHandler(s.persist))
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path(path string) string {
	return filepath.Join(s.path, path)
}

// RowPath returns the file path of a row.
func (s *Store) RowPath(t *store.Table, row map[string]any) (string, error) {
	key := map[string]any{}
	for _, c := range t.PrimaryKey {
		key[c] = row[c]
	}
	k, err := utils.CanonicalJSON(key)
	if err != nil {
		return "", err
	}
	return s.Path(filepath.Join(t.Name, base64.RawURLEncoding.EncodeToString([]byte(k))+".yaml")), nil
}

func (s *Store) load() error {
	for _, t := range s.schema.Tables {
		list, err := vfs.ReadDir(s.fs, s.Path(t.Name))
		if err != nil {
			if errors.Is(err, vfs.ErrNotExist) {
				continue
			}
			return err
		}
		var rows []map[string]any
		for _, e := range list {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
				continue
			}
			path := s.Path(filepath.Join(t.Name, e.Name()))
			data, err := vfs.ReadFile(s.fs, path)
			if err != nil {
				return err
			}
			row, err := decode(data)
			if err != nil {
				return fmt.Errorf("corrupted row file %s: %w", path, err)
			}
			s.written[path] = data
			rows = append(rows, row)
		}
		if err := s.Store.Load(t.Name, rows...); err != nil {
			return err
		}
	}
	return nil
}

func decode(data []byte) (map[string]any, error) {
	j, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(j))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return utils.NormalizeMap(row), nil
}

// persist writes the changed rows and removes the files of
// deleted rows.
func (s *Store) persist(ctx context.Context, tables map[string][]map[string]any) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	written := map[string][]byte{}
	for name, rows := range tables {
		t := s.schema.Table(name)
		for _, row := range rows {
			path, err := s.RowPath(t, row)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(row)
			if err != nil {
				return err
			}
			written[path] = data
			if bytes.Equal(s.written[path], data) {
				continue
			}
			err = s.fs.MkdirAll(filepath.Dir(path), 0o700)
			if err != nil {
				return err
			}
			if err := vfs.WriteFile(s.fs, path, data, 0o600); err != nil {
				return err
			}
		}
	}
	for path := range s.written {
		if _, ok := written[path]; !ok {
			if err := s.fs.Remove(path); err != nil && !errors.Is(err, vfs.ErrNotExist) {
				return err
			}
		}
	}
	s.written = written
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// Specification describes a filesystem store.
type Specification struct {
	Path       string         `json:"path"`
	FileSystem vfs.FileSystem `json:"-"`
}

var _ store.Specification = (*Specification)(nil)

func NewSpecification(path string, fss ...vfs.FileSystem) *Specification {
	return &Specification{
		Path:       path,
		FileSystem: general.OptionalDefaulted(vfs.FileSystem(osfs.New()), fss...),
	}
}

func (s *Specification) Create(ctx context.Context, schema *store.Schema) (store.Store, error) {
	fs := s.FileSystem
	if fs == nil {
		fs = osfs.New()
	}
	return New(schema, s.Path, fs)
}
