package crudform

import (
	"io/fs"
	"os"
	"strings"

	"github.com/goliatone/go-crudform/pkg/schema"
)

// EmbeddedSchemas exposes the built-in bank, customer and user descriptors so
// callers can copy or extend them.
func EmbeddedSchemas() fs.FS {
	return schema.DefaultsFS()
}

// LoadSchemas builds a registry from descriptor files in fsys. A nil fsys
// returns the built-in schemas.
func LoadSchemas(fsys fs.FS) (*schema.Registry, error) {
	if fsys == nil {
		return schema.Defaults()
	}
	return schema.LoadFS(fsys)
}

// LoadSchemasDir is LoadSchemas over a directory on disk. An empty dir
// returns the built-in schemas.
func LoadSchemasDir(dir string) (*schema.Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return schema.Defaults()
	}
	return schema.LoadFS(os.DirFS(dir))
}
