// Package download localizes URI-typed File/Directory inputs before
// the workflow starts: per-scheme downloaders (an in-process s3
// client, a helper-image task for http/https/ftp), optionally fronted
// by a cross-run download cache keyed by URI with shared flocks.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/me/gowdl/pkg/wdl"
	"golang.org/x/sys/unix"
)

// Downloader fetches one URI scheme family.
type Downloader interface {
	Schemes() []string
	// Fetch downloads uri into destDir and returns the local path.
	Fetch(ctx context.Context, uri, destDir string) (string, error)
}

// CacheConfig configures the cross-run download cache.
type CacheConfig struct {
	Get             bool
	Put             bool
	Dir             string
	EnablePatterns  []string
	DisablePatterns []string
}

// Orchestrator detects URI inputs, dispatches scheme downloaders, and
// mediates the download cache.
type Orchestrator struct {
	downloaders map[string]Downloader
	cache       CacheConfig
	logger      *slog.Logger

	// Shared flocks held on cached entries in use by this run,
	// released by Close.
	held []*os.File
}

// NewOrchestrator builds an orchestrator over the given downloaders.
func NewOrchestrator(cache CacheConfig, logger *slog.Logger, downloaders ...Downloader) *Orchestrator {
	o := &Orchestrator{
		downloaders: make(map[string]Downloader),
		cache:       cache,
		logger:      logger.With("component", "download"),
	}
	for _, d := range downloaders {
		for _, scheme := range d.Schemes() {
			o.downloaders[scheme] = d
		}
	}
	return o
}

// Close releases the shared locks held on cache entries.
func (o *Orchestrator) Close() {
	for _, f := range o.held {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}
	o.held = nil
}

// IsURI reports whether a File/Directory handle is a downloadable
// URI rather than a local path.
func (o *Orchestrator) IsURI(s string) bool {
	scheme := uriScheme(s)
	if scheme == "" || scheme == "file" {
		return false
	}
	_, ok := o.downloaders[scheme]
	return ok
}

func uriScheme(s string) string {
	i := strings.Index(s, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(s[:i])
}

// LocalizeInputs rewrites every URI-typed File/Directory in the input
// environment to a local path, downloading as needed. downloadDir
// receives uncached downloads (the run's download/ directory).
func (o *Orchestrator) LocalizeInputs(ctx context.Context, inputs wdl.Env[wdl.Value], downloadDir string) (wdl.Env[wdl.Value], error) {
	bindings := inputs.All()
	var out wdl.Env[wdl.Value]
	for i := len(bindings) - 1; i >= 0; i-- {
		b := bindings[i]
		if b.Namespace != nil {
			out = out.BindNamespace(b.Name, *b.Namespace)
			continue
		}
		v, err := o.localizeValue(ctx, b.Value, downloadDir)
		if err != nil {
			return out, err
		}
		out = out.Bind(b.Name, v)
	}
	return out, nil
}

func (o *Orchestrator) localizeValue(ctx context.Context, v wdl.Value, downloadDir string) (wdl.Value, error) {
	switch vv := v.(type) {
	case wdl.FileValue:
		if o.IsURI(vv.V) {
			p, err := o.Localize(ctx, vv.V, downloadDir)
			if err != nil {
				return nil, err
			}
			vv.V = p
		}
		return vv, nil
	case wdl.DirectoryValue:
		if o.IsURI(vv.V) {
			p, err := o.Localize(ctx, vv.V, downloadDir)
			if err != nil {
				return nil, err
			}
			vv.V = p
		}
		return vv, nil
	case wdl.ArrayValue:
		items := make([]wdl.Value, len(vv.Items))
		for i, item := range vv.Items {
			lv, err := o.localizeValue(ctx, item, downloadDir)
			if err != nil {
				return nil, err
			}
			items[i] = lv
		}
		vv.Items = items
		return vv, nil
	case wdl.MapValue:
		entries := make([]wdl.MapEntry, len(vv.Entries))
		for i, e := range vv.Entries {
			lv, err := o.localizeValue(ctx, e.Value, downloadDir)
			if err != nil {
				return nil, err
			}
			entries[i] = wdl.MapEntry{Key: e.Key, Value: lv}
		}
		vv.Entries = entries
		return vv, nil
	case wdl.PairValue:
		left, err := o.localizeValue(ctx, vv.Left, downloadDir)
		if err != nil {
			return nil, err
		}
		right, err := o.localizeValue(ctx, vv.Right, downloadDir)
		if err != nil {
			return nil, err
		}
		vv.Left, vv.Right = left, right
		return vv, nil
	case wdl.StructValue:
		members := make([]wdl.NamedValue, len(vv.Members))
		for i, m := range vv.Members {
			lv, err := o.localizeValue(ctx, m.Value, downloadDir)
			if err != nil {
				return nil, err
			}
			members[i] = wdl.NamedValue{Name: m.Name, Value: lv}
		}
		vv.Members = members
		return vv, nil
	}
	return v, nil
}

// Localize fetches one URI, consulting the download cache when its
// patterns admit the URI.
func (o *Orchestrator) Localize(ctx context.Context, uri, downloadDir string) (string, error) {
	scheme := uriScheme(uri)
	d, ok := o.downloaders[scheme]
	if !ok {
		return "", fmt.Errorf("no downloader for scheme %q", scheme)
	}

	cacheable := o.cacheable(uri)
	if cacheable && o.cache.Get {
		if p, ok := o.cacheLookup(uri); ok {
			o.logger.Info("download cache hit", "uri", uri)
			return p, nil
		}
	}

	destDir := downloadDir
	if cacheable && o.cache.Put {
		destDir = o.cacheEntryDir(uri)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	o.logger.Info("downloading", "uri", uri)
	p, err := d.Fetch(ctx, uri, destDir)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", uri, err)
	}
	if cacheable && o.cache.Put {
		o.holdShared(p)
	}
	return p, nil
}

// cacheable applies the enable/disable URI patterns.
func (o *Orchestrator) cacheable(uri string) bool {
	if !o.cache.Get && !o.cache.Put {
		return false
	}
	enabled := len(o.cache.EnablePatterns) == 0
	for _, pat := range o.cache.EnablePatterns {
		if ok, _ := path.Match(pat, uri); ok || pat == "*" {
			enabled = true
			break
		}
	}
	for _, pat := range o.cache.DisablePatterns {
		if ok, _ := path.Match(pat, uri); ok {
			return false
		}
	}
	return enabled
}

func (o *Orchestrator) cacheEntryDir(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return filepath.Join(o.cache.Dir, "files", hex.EncodeToString(sum[:8]))
}

// cacheLookup returns the cached local path for a URI, taking a
// shared flock for the run's lifetime so an eviction tool (which
// takes exclusive flocks) does not remove entries in use.
func (o *Orchestrator) cacheLookup(uri string) (string, bool) {
	dir := o.cacheEntryDir(uri)
	name := uriBasename(uri)
	p := filepath.Join(dir, name)
	f, err := os.Open(p)
	if err != nil {
		return "", false
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		f.Close()
		return "", false
	}
	o.held = append(o.held, f)
	return p, true
}

// holdShared locks a freshly-written cache entry for the run.
func (o *Orchestrator) holdShared(p string) {
	f, err := os.Open(p)
	if err != nil {
		return
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		f.Close()
		return
	}
	o.held = append(o.held, f)
}

// uriBasename extracts the final path element of a URI, defaulting to
// "download" for bare hosts.
func uriBasename(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "download"
	}
	return path.Base(u.Path)
}
