// Package cache implements the inter-run call cache: a content-
// addressed store of task outputs keyed by a digest of normalized
// source plus canonical inputs, invalidated when referenced local
// files change.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/me/gowdl/pkg/wdl"
)

// NormalizeSource canonicalizes WDL text for digesting: line comments
// are stripped and runs of whitespace collapse to single spaces. This
// function is a conformance boundary; its behavior is pinned by
// fixture tests.
func NormalizeSource(source string) string {
	var b strings.Builder
	for _, line := range strings.Split(source, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// SourceDigest hashes the normalized text of the document defining a
// task, the task's name, and the normalized text of every imported
// document (sorted by resolved URI), so that any source change
// invalidates the task's entries.
func SourceDigest(doc *wdl.Document, taskName string) string {
	h := sha256.New()
	fmt.Fprintf(h, "task\x00%s\x00", taskName)
	fmt.Fprintf(h, "%s\x00", NormalizeSource(doc.Source))

	var imports []*wdl.Document
	collectImports(doc, &imports)
	sort.Slice(imports, func(i, j int) bool { return imports[i].URI < imports[j].URI })
	for _, imp := range imports {
		fmt.Fprintf(h, "import\x00%s\x00%s\x00", imp.URI, NormalizeSource(imp.Source))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func collectImports(doc *wdl.Document, into *[]*wdl.Document) {
	for _, imp := range doc.Imports {
		if imp.Doc == nil {
			continue
		}
		*into = append(*into, imp.Doc)
		collectImports(imp.Doc, into)
	}
}

// InputDigest hashes a task's input values canonically: JSON with
// sorted keys, where each local file handle is replaced by a capsule
// of its path, mtime, and size.
func InputDigest(inputs wdl.Env[wdl.Value]) (string, error) {
	canon := make(map[string]any)
	bindings := inputs.All()
	for i := len(bindings) - 1; i >= 0; i-- {
		b := bindings[i]
		if b.Namespace != nil {
			continue
		}
		c, err := canonicalValue(b.Value)
		if err != nil {
			return "", err
		}
		canon[b.Name] = c
	}
	data, err := json.Marshal(canon) // encoding/json sorts map keys
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalValue(v wdl.Value) (any, error) {
	switch vv := v.(type) {
	case wdl.FileValue:
		return fileCapsule(vv.V)
	case wdl.DirectoryValue:
		return fileCapsule(vv.V)
	case wdl.ArrayValue:
		out := make([]any, len(vv.Items))
		for i, item := range vv.Items {
			c, err := canonicalValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case wdl.MapValue:
		out := make(map[string]any, len(vv.Entries))
		for _, e := range vv.Entries {
			c, err := canonicalValue(e.Value)
			if err != nil {
				return nil, err
			}
			out[e.Key.String()] = c
		}
		return out, nil
	case wdl.PairValue:
		left, err := canonicalValue(vv.Left)
		if err != nil {
			return nil, err
		}
		right, err := canonicalValue(vv.Right)
		if err != nil {
			return nil, err
		}
		return map[string]any{"left": left, "right": right}, nil
	case wdl.StructValue:
		out := make(map[string]any, len(vv.Members))
		for _, m := range vv.Members {
			c, err := canonicalValue(m.Value)
			if err != nil {
				return nil, err
			}
			out[m.Name] = c
		}
		return out, nil
	}
	return v.JSON(), nil
}

// fileCapsule stands in for a local file's content: unchanged
// mtime+size is treated as unchanged content.
func fileCapsule(path string) (any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cache digest: %w", err)
	}
	return map[string]any{
		"file":  path,
		"mtime": info.ModTime().UnixNano(),
		"size":  info.Size(),
	}, nil
}

// Key combines the source and input digests into the cache entry key.
func Key(sourceDigest, inputDigest string) string {
	sum := sha256.Sum256([]byte(sourceDigest + "\x00" + inputDigest))
	return hex.EncodeToString(sum[:])
}
