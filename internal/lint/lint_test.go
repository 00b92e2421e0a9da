package lint

import (
	"log/slog"
	"testing"

	"github.com/me/gowdl/internal/syntax"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

const lintSource = `
version 1.0
task t {
  input {
    Int n
  }
  command <<<
    echo ~{n}
  >>>
  output {
    Int out = n
  }
}
workflow w {
  Int unused = 1
  call t { input: n = 2 }
  output {
    Int fine = 3
  }
}
`

func TestLint_UnusedDeclAndForgottenCall(t *testing.T) {
	doc, err := syntax.New(testLogger()).ParseDocument("lint.wdl", []byte(lintSource))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	findings := New(nil, false).Lint(doc)
	var rules []string
	for _, f := range findings {
		rules = append(rules, f.Rule)
	}

	has := func(rule string) bool {
		for _, r := range rules {
			if r == rule {
				return true
			}
		}
		return false
	}
	if !has("UnusedDeclaration") {
		t.Errorf("findings %v should include UnusedDeclaration", rules)
	}
	if !has("ForgottenCall") {
		t.Errorf("findings %v should include ForgottenCall", rules)
	}
}

func TestLint_Suppression(t *testing.T) {
	doc, err := syntax.New(testLogger()).ParseDocument("lint.wdl", []byte(lintSource))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	findings := New([]string{"UnusedDeclaration", "ForgottenCall"}, false).Lint(doc)
	for _, f := range findings {
		if f.Rule == "UnusedDeclaration" || f.Rule == "ForgottenCall" {
			t.Errorf("suppressed rule fired: %v", f)
		}
	}

	// --no-suppress reinstates them.
	findings = New([]string{"UnusedDeclaration"}, true).Lint(doc)
	found := false
	for _, f := range findings {
		if f.Rule == "UnusedDeclaration" {
			found = true
		}
	}
	if !found {
		t.Error("no-suppress should reinstate suppressed rules")
	}
}
