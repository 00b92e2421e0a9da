package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/me/gowdl/pkg/wdl"
	"golang.org/x/sys/unix"
)

// fileStamp records a referenced local file's identity at write time.
type fileStamp struct {
	MtimeNS int64 `json:"mtime_ns"`
	Size    int64 `json:"size"`
}

// entry is the JSON document stored per cache key.
type entry struct {
	Outputs map[string]any       `json:"outputs"`
	Files   map[string]fileStamp `json:"files"`
	Written time.Time            `json:"written"`
}

// Cache is the call cache. Entries live as JSON files under Dir and
// survive across runs; writes take an exclusive flock on the entry.
type Cache struct {
	dir    string
	get    bool
	put    bool
	logger *slog.Logger
}

// New creates a call cache. get/put gate reads and writes
// independently.
func New(dir string, get, put bool, logger *slog.Logger) *Cache {
	return &Cache{dir: dir, get: get, put: put, logger: logger.With("component", "call-cache")}
}

// Enabled reports whether any cache traffic is configured.
func (c *Cache) Enabled() bool { return c.get || c.put }

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns a hit's outputs environment, or ok=false on miss. A
// miss is ordinary control flow, never an error. Entries whose
// referenced local files changed since write time are invalidated.
func (c *Cache) Get(key string, outputDecls []*wdl.Decl) (wdl.Env[wdl.Value], bool) {
	var empty wdl.Env[wdl.Value]
	if !c.get {
		return empty, false
	}
	f, err := os.Open(c.path(key))
	if err != nil {
		return empty, false
	}
	defer f.Close()

	// A held exclusive lock means a write is in flight; treat as miss.
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		c.logger.Debug("cache entry locked, treating as miss", "key", key)
		return empty, false
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	var e entry
	if err := json.NewDecoder(f).Decode(&e); err != nil {
		c.logger.Warn("corrupt cache entry", "key", key, "error", err)
		return empty, false
	}

	for path, stamp := range e.Files {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().UnixNano() != stamp.MtimeNS || info.Size() != stamp.Size {
			c.logger.Info("cache entry invalidated by file change", "key", key, "file", path)
			c.invalidate(key)
			return empty, false
		}
	}

	var outputs wdl.Env[wdl.Value]
	for _, d := range outputDecls {
		raw, ok := e.Outputs[d.Name]
		if !ok {
			return empty, false
		}
		v, err := wdl.ValueFromJSON(d.Type, raw)
		if err != nil {
			c.logger.Warn("cache entry type mismatch", "key", key, "output", d.Name, "error", err)
			return empty, false
		}
		outputs = outputs.Bind(d.Name, v)
	}
	c.logger.Info("call cache hit", "key", key)
	return outputs, true
}

// Put stores a successful call's outputs, stamping every local
// File/Directory referenced by the outputs for later invalidation.
// extraFiles adds the input files that fed the key.
func (c *Cache) Put(key string, outputs wdl.Env[wdl.Value], extraFiles []string) error {
	if !c.put {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}

	e := entry{
		Outputs: make(map[string]any),
		Files:   make(map[string]fileStamp),
		Written: time.Now(),
	}
	bindings := outputs.All()
	for i := len(bindings) - 1; i >= 0; i-- {
		b := bindings[i]
		if b.Namespace != nil {
			continue
		}
		e.Outputs[b.Name] = b.Value.JSON()
		collectFiles(b.Value, e.Files)
	}
	for _, p := range extraFiles {
		stampFile(p, e.Files)
	}

	f, err := os.OpenFile(c.path(key), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock cache entry: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&e); err != nil {
		return err
	}
	c.logger.Info("call cache write", "key", key)
	return nil
}

func (c *Cache) invalidate(key string) {
	_ = os.Remove(c.path(key))
}

func collectFiles(v wdl.Value, into map[string]fileStamp) {
	switch vv := v.(type) {
	case wdl.FileValue:
		stampFile(vv.V, into)
	case wdl.DirectoryValue:
		stampFile(vv.V, into)
	case wdl.ArrayValue:
		for _, item := range vv.Items {
			collectFiles(item, into)
		}
	case wdl.MapValue:
		for _, e := range vv.Entries {
			collectFiles(e.Value, into)
		}
	case wdl.PairValue:
		collectFiles(vv.Left, into)
		collectFiles(vv.Right, into)
	case wdl.StructValue:
		for _, m := range vv.Members {
			collectFiles(m.Value, into)
		}
	}
}

func stampFile(path string, into map[string]fileStamp) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	into[path] = fileStamp{MtimeNS: info.ModTime().UnixNano(), Size: info.Size()}
}
