package trace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcwright/internal/config"
)

const caseDoc = `---
id: APP1-TC-001
app: APP1
area: Login
suite: Smoke
type: Functional
priority: P1
status: Draft
story_refs: [proj#12, "free-form ref"]
bug_refs: []
owner: qa-team
automation:
  status: Planned
---

# Login: baseline scenario

## Steps & Expected
1. Sign in
`

func writeCase(t *testing.T, root string, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newTestBuilder(t *testing.T, ciURL string) (*Builder, string) {
	t.Helper()
	cases := t.TempDir()
	out := t.TempDir()
	cfg := config.TraceConfig{CasesDir: cases, OutDir: out, CIServerURL: ciURL}
	return NewBuilder(cfg, nil), cases
}

func TestScan(t *testing.T) {
	t.Run("parses well-formed case", func(t *testing.T) {
		b, cases := newTestBuilder(t, "https://gitlab.example.com")
		writeCase(t, cases, "app1/areas/login/APP1-TC-001.md", caseDoc)

		m, err := b.Scan(context.Background())
		require.NoError(t, err)
		require.Len(t, m.Rows, 1)
		assert.Empty(t, m.Warnings)

		want := Row{
			ID:       "APP1-TC-001",
			Title:    "Login: baseline scenario",
			App:      "APP1",
			Area:     "Login",
			Suite:    "Smoke",
			Type:     "Functional",
			Priority: "P1",
			Status:   "Draft",
			Owner:    "qa-team",
			Stories: []Ref{
				{Text: "proj#12", URL: "https://gitlab.example.com/proj/-/issues/12"},
				{Text: "free-form ref"},
			},
			Bugs:       []Ref{},
			Automation: "Planned",
			Path:       "app1/areas/login/APP1-TC-001.md",
		}
		if diff := cmp.Diff(want, m.Rows[0]); diff != "" {
			t.Errorf("row mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("missing front matter warns and falls back to stem", func(t *testing.T) {
		b, cases := newTestBuilder(t, "")
		writeCase(t, cases, "app1/areas/login/APP1-TC-002.md", "# Only a title\n\nSome prose.\n")

		m, err := b.Scan(context.Background())
		require.NoError(t, err)
		require.Len(t, m.Rows, 1)
		assert.Equal(t, "APP1-TC-002", m.Rows[0].ID)
		assert.Equal(t, "Only a title", m.Rows[0].Title)
		require.Len(t, m.Warnings, 1)
		assert.Contains(t, m.Warnings[0], "No front matter")
	})

	t.Run("broken yaml warns", func(t *testing.T) {
		b, cases := newTestBuilder(t, "")
		writeCase(t, cases, "a/bad.md", "---\nid: [unclosed\n---\nbody\n")

		m, err := b.Scan(context.Background())
		require.NoError(t, err)
		require.Len(t, m.Warnings, 1)
		assert.Contains(t, m.Warnings[0], "YAML parse error")
		// The file still contributes a row named after its stem.
		require.Len(t, m.Rows, 1)
		assert.Equal(t, "bad", m.Rows[0].ID)
	})

	t.Run("rows sorted by app then id", func(t *testing.T) {
		b, cases := newTestBuilder(t, "")
		writeCase(t, cases, "z/Z-TC-001.md", "---\nid: Z-TC-001\napp: ZApp\n---\nx")
		writeCase(t, cases, "a/A-TC-002.md", "---\nid: A-TC-002\napp: AApp\n---\nx")
		writeCase(t, cases, "a/A-TC-001.md", "---\nid: A-TC-001\napp: AApp\n---\nx")

		m, err := b.Scan(context.Background())
		require.NoError(t, err)
		require.Len(t, m.Rows, 3)
		assert.Equal(t, "A-TC-001", m.Rows[0].ID)
		assert.Equal(t, "A-TC-002", m.Rows[1].ID)
		assert.Equal(t, "Z-TC-001", m.Rows[2].ID)
	})

	t.Run("non-markdown files ignored", func(t *testing.T) {
		b, cases := newTestBuilder(t, "")
		writeCase(t, cases, "a/README.txt", "not a case")

		m, err := b.Scan(context.Background())
		require.NoError(t, err)
		assert.Empty(t, m.Rows)
	})
}

func TestNormRefs(t *testing.T) {
	b := NewBuilder(config.TraceConfig{CIServerURL: "https://gitlab.example.com/"}, nil)

	refs := b.normRefs([]string{"grp/proj#42", "PLAIN-1", " ", "no#digits#here"})
	require.Len(t, refs, 3)
	assert.Equal(t, Ref{Text: "grp/proj#42", URL: "https://gitlab.example.com/grp/proj/-/issues/42"}, refs[0])
	assert.Equal(t, Ref{Text: "PLAIN-1"}, refs[1])
	assert.Empty(t, refs[2].URL)

	t.Run("no links without a CI server URL", func(t *testing.T) {
		plain := NewBuilder(config.TraceConfig{}, nil).normRefs([]string{"grp/proj#42"})
		require.Len(t, plain, 1)
		assert.Empty(t, plain[0].URL)
	})
}

func TestBuild(t *testing.T) {
	b, cases := newTestBuilder(t, "https://gitlab.example.com")
	writeCase(t, cases, "app1/areas/login/APP1-TC-001.md", caseDoc)
	writeCase(t, cases, "app1/areas/login/nofm.md", "# Stray file\n")

	m, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Len(t, m.Rows, 2)

	out := b.cfg.OutDir

	t.Run("csv", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(out, "traceability.csv"))
		require.NoError(t, err)
		text := string(data)
		assert.True(t, strings.HasPrefix(text, "\uFEFF"), "BOM missing")
		assert.Contains(t, text, `"ID","Title","App"`)
		assert.Contains(t, text, `"APP1-TC-001"`)
		assert.Contains(t, text, "\r\n")
	})

	t.Run("xlsx", func(t *testing.T) {
		_, err := os.Stat(filepath.Join(out, "traceability.xlsx"))
		assert.NoError(t, err)
	})

	t.Run("html links issue refs", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(out, "index.html"))
		require.NoError(t, err)
		assert.Contains(t, string(data), `href="https://gitlab.example.com/proj/-/issues/12"`)
		assert.Contains(t, string(data), "(2 cases)")
	})

	t.Run("stats", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(out, "stats.json"))
		require.NoError(t, err)
		assert.Contains(t, string(data), `"total": 2`)
		assert.Contains(t, string(data), `"APP1": 1`)
	})

	t.Run("warnings", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(out, "warnings.txt"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "No front matter")
	})
}

func TestBuild_EmptyTree(t *testing.T) {
	b, _ := newTestBuilder(t, "")

	m, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m.Rows)

	data, err := os.ReadFile(filepath.Join(b.cfg.OutDir, "traceability.csv"))
	require.NoError(t, err)
	assert.Equal(t, "\uFEFF", string(data))

	warn, err := os.ReadFile(filepath.Join(b.cfg.OutDir, "warnings.txt"))
	require.NoError(t, err)
	assert.Equal(t, "No warnings.\n", string(warn))
}
