package metadata

import (
	"fmt"
	"path"
	"strings"

	"github.com/drone/envsubst"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"sigs.k8s.io/yaml"
)

// ParseModel parses a YAML model description. References to
// environment variables (${NAME}) are substituted before parsing.
func ParseModel(data []byte) (*Model, error) {
	s, err := envsubst.EvalEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("env substitution failed: %w", err)
	}
	var m Model
	err = yaml.Unmarshal([]byte(s), &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadModel reads a model file or all model files (*.yaml, *.yml)
// of a directory. The entities of all files are merged into one model.
func LoadModel(fs vfs.FileSystem, p string) (*Model, error) {
	ok, err := vfs.IsDir(fs, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return loadFile(fs, p)
	}

	entries, err := vfs.ReadDir(fs, p)
	if err != nil {
		return nil, err
	}
	result := &Model{Name: path.Base(p)}
	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		m, err := loadFile(fs, path.Join(p, e.Name()))
		if err != nil {
			return nil, err
		}
		result.Entities = append(result.Entities, m.Entities...)
	}
	return result, nil
}

func loadFile(fs vfs.FileSystem, p string) (*Model, error) {
	log.Debug("loading model {{file}}", "file", p)
	data, err := vfs.ReadFile(fs, p)
	if err != nil {
		return nil, err
	}
	m, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(strings.TrimSuffix(path.Base(p), ".yaml"), ".yml")
	}
	return m, nil
}
