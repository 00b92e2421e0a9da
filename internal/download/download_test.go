package download

import (
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestOrchestrator(cfg CacheConfig) *Orchestrator {
	return NewOrchestrator(cfg, testLogger(), NewS3Downloader(testLogger()))
}

func TestIsURI(t *testing.T) {
	o := newTestOrchestrator(CacheConfig{})
	cases := []struct {
		in   string
		want bool
	}{
		{"s3://bucket/key.fa", true},
		{"/local/path.fa", false},
		{"file:///local/path.fa", false},
		{"relative/path.fa", false},
		{"gopher://old/times", false}, // no downloader registered
	}
	for _, c := range cases {
		if got := o.IsURI(c.in); got != c.want {
			t.Errorf("IsURI(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := parseS3URI("s3://my-bucket/ref/genome.fa")
	if err != nil {
		t.Fatalf("parseS3URI error: %v", err)
	}
	if bucket != "my-bucket" || key != "ref/genome.fa" {
		t.Errorf("parsed = %q, %q", bucket, key)
	}
	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/"} {
		if _, _, err := parseS3URI(bad); err == nil {
			t.Errorf("parseS3URI(%q) should fail", bad)
		}
	}
}

func TestCacheablePatterns(t *testing.T) {
	o := newTestOrchestrator(CacheConfig{
		Get:             true,
		EnablePatterns:  []string{"s3://allowed/*"},
		DisablePatterns: []string{"s3://allowed/secret*"},
	})
	if !o.cacheable("s3://allowed/ref.fa") {
		t.Error("enabled pattern should admit")
	}
	if o.cacheable("s3://allowed/secret.fa") {
		t.Error("disable pattern should win")
	}

	off := newTestOrchestrator(CacheConfig{})
	if off.cacheable("s3://any/thing") {
		t.Error("cache disabled entirely should never admit")
	}
}

func TestURIBasename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"s3://bucket/dir/file.fa", "file.fa"},
		{"https://host/a/b.tar.gz", "b.tar.gz"},
		{"https://host/", "download"},
		{"https://host", "download"},
	}
	for _, c := range cases {
		if got := uriBasename(c.in); got != c.want {
			t.Errorf("uriBasename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("https://x/y?a=b&c=d"); got != "'https://x/y?a=b&c=d'" {
		t.Errorf("shellQuote = %q", got)
	}
	if got := shellQuote("it's"); got != `'it'\''s'` {
		t.Errorf("shellQuote with quote = %q", got)
	}
}
