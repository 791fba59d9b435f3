package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-crudform/pkg/entity"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// DefaultsFS exposes the embedded descriptors for the built-in entity kinds.
func DefaultsFS() fs.FS {
	sub, err := fs.Sub(defaultsFS, "defaults")
	if err != nil {
		return defaultsFS
	}
	return sub
}

// Defaults returns a registry populated with the built-in bank, customer and
// user schemas.
func Defaults() (*Registry, error) {
	return LoadFS(DefaultsFS())
}

// LoadFS walks the provided filesystem and parses JSON/YAML entity descriptor
// files into a new registry. When fsys is nil the returned registry is empty.
func LoadFS(fsys fs.FS) (*Registry, error) {
	registry := NewRegistry()
	if err := LoadInto(registry, fsys); err != nil {
		return nil, err
	}
	return registry, nil
}

// LoadInto parses descriptor files from fsys and registers them on registry.
func LoadInto(registry *Registry, fsys fs.FS) error {
	if registry == nil {
		return fmt.Errorf("schema: registry is nil")
	}
	if fsys == nil {
		return nil
	}

	return fs.WalkDir(fsys, ".", func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !isSchemaFile(path) {
			return nil
		}

		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("schema: read %s: %w", path, err)
		}

		doc, err := parseDocument(data, path)
		if err != nil {
			return err
		}

		for rawKind, raw := range doc.Entities {
			kind := entity.Kind(strings.TrimSpace(rawKind))
			if kind == "" {
				return fmt.Errorf("schema: file %s defines an empty entity kind", path)
			}
			s := entity.Schema{
				Kind:       kind,
				Route:      strings.TrimSpace(raw.Route),
				LabelField: strings.TrimSpace(raw.LabelField),
				Fields:     raw.Fields,
			}
			if err := registry.Register(s); err != nil {
				return fmt.Errorf("%w (file %s)", err, path)
			}
		}
		return nil
	})
}

type documentFile struct {
	Entities map[string]entityFile `json:"entities" yaml:"entities"`
}

type entityFile struct {
	Route      string         `json:"route" yaml:"route"`
	LabelField string         `json:"labelField" yaml:"labelField"`
	Fields     []entity.Field `json:"fields" yaml:"fields"`
}

func parseDocument(data []byte, source string) (documentFile, error) {
	var doc documentFile
	if len(strings.TrimSpace(string(data))) == 0 {
		return documentFile{}, fmt.Errorf("schema: file %s is empty", source)
	}

	if err := json.Unmarshal(data, &doc); err == nil {
		return doc, nil
	}

	doc = documentFile{}
	if err := yaml.Unmarshal(data, &doc); err == nil {
		return doc, nil
	}

	return documentFile{}, fmt.Errorf("schema: parse %s: invalid JSON or YAML", source)
}

func isSchemaFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// MarshalYAML encodes schemas as a descriptor document LoadFS accepts, for
// example to persist schemas converted from an OpenAPI document.
func MarshalYAML(schemas ...entity.Schema) ([]byte, error) {
	doc := documentFile{Entities: make(map[string]entityFile, len(schemas))}
	for _, s := range schemas {
		if s.Kind == "" {
			return nil, fmt.Errorf("schema: cannot marshal schema without kind")
		}
		doc.Entities[string(s.Kind)] = entityFile{
			Route:      s.Route,
			LabelField: s.LabelField,
			Fields:     s.Fields,
		}
	}
	return yaml.Marshal(doc)
}
