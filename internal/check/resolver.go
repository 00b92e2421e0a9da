package check

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ImportResolver loads the source text behind an import URI. The
// returned key canonicalizes the URI for cycle detection and error
// reporting.
type ImportResolver interface {
	Resolve(base, uri string) (key string, source []byte, err error)
}

// FileResolver resolves relative and file:// imports against the
// importing document's directory. When AllowOutside is false, imports
// that escape the top-level document's directory tree are denied.
type FileResolver struct {
	// Root is the directory of the top-level document; imports must
	// stay under it unless AllowOutside is set.
	Root         string
	AllowOutside bool
}

// Resolve implements ImportResolver.
func (r *FileResolver) Resolve(base, uri string) (string, []byte, error) {
	path := strings.TrimPrefix(uri, "file://")
	if strings.Contains(path, "://") {
		return "", nil, fmt.Errorf("unsupported import scheme in %q", uri)
	}
	if !filepath.IsAbs(path) {
		baseDir := filepath.Dir(strings.TrimPrefix(base, "file://"))
		path = filepath.Join(baseDir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, err
	}
	if !r.AllowOutside && r.Root != "" {
		root, err := filepath.Abs(r.Root)
		if err != nil {
			return "", nil, err
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", nil, fmt.Errorf("import %q is outside the document directory (denied by policy)", uri)
		}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", nil, err
	}
	return abs, data, nil
}
