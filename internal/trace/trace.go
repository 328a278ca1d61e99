// Package trace builds the traceability matrix from a tree of test-case
// Markdown files.
package trace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tcwright/internal/config"
	"tcwright/internal/frontmatter"
)

const scanConcurrency = 8

var (
	h1Re       = regexp.MustCompile(`(?m)^\s*#\s+(.+)$`)
	issueRefRe = regexp.MustCompile(`^([^#\s]+)#(\d+)$`)
)

// Ref is a story or bug reference, with a URL when it matched the
// group/project#123 form and a CI server URL is known.
type Ref struct {
	Text string
	URL  string
}

// Row is one test case in the matrix.
type Row struct {
	ID         string
	Title      string
	App        string
	Area       string
	Suite      string
	Type       string
	Priority   string
	Status     string
	Owner      string
	Stories    []Ref
	Bugs       []Ref
	Automation string
	Path       string
}

// Matrix is the scan result: rows sorted by app then id, plus any
// per-file warnings.
type Matrix struct {
	Rows     []Row
	Warnings []string
}

// Builder scans case files and renders the matrix outputs.
type Builder struct {
	cfg    config.TraceConfig
	logger *zap.Logger
}

func NewBuilder(cfg config.TraceConfig, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Scan walks the cases directory and parses every Markdown file it finds.
// A file with broken or missing front-matter still contributes a row; the
// defect is reported as a warning.
func (b *Builder) Scan(ctx context.Context) (*Matrix, error) {
	var paths []string
	err := filepath.WalkDir(b.cfg.CasesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", b.cfg.CasesDir, err)
	}

	type parsed struct {
		row      Row
		warnings []string
	}
	results := make([]parsed, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			row, warns, err := b.parseCase(path)
			if err != nil {
				return err
			}
			results[i] = parsed{row: row, warnings: warns}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &Matrix{}
	for _, r := range results {
		m.Rows = append(m.Rows, r.row)
		m.Warnings = append(m.Warnings, r.warnings...)
	}
	sort.Slice(m.Rows, func(i, j int) bool {
		if m.Rows[i].App != m.Rows[j].App {
			return m.Rows[i].App < m.Rows[j].App
		}
		return m.Rows[i].ID < m.Rows[j].ID
	})

	b.logger.Info("scanned case files",
		zap.Int("files", len(paths)), zap.Int("warnings", len(m.Warnings)))
	return m, nil
}

func (b *Builder) parseCase(path string) (Row, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Row{}, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := string(data)
	stem := strings.TrimSuffix(filepath.Base(path), ".md")

	var warnings []string
	meta, err := frontmatter.ParseMeta(text)
	if err != nil {
		if errors.Is(err, frontmatter.ErrMissingFrontMatter) {
			warnings = append(warnings, fmt.Sprintf("No front matter: %s", path))
		} else {
			warnings = append(warnings, fmt.Sprintf("YAML parse error in %s: %v", path, err))
		}
		meta = frontmatter.Meta{}
	}

	title := stem
	if m := h1Re.FindStringSubmatch(text); m != nil {
		title = strings.TrimSpace(m[1])
	}
	id := meta.ID
	if id == "" {
		id = stem
	}

	rel := path
	if r, err := filepath.Rel(b.cfg.CasesDir, path); err == nil {
		rel = filepath.ToSlash(r)
	}

	return Row{
		ID:         id,
		Title:      title,
		App:        meta.App,
		Area:       meta.Area,
		Suite:      meta.Suite,
		Type:       meta.Type,
		Priority:   meta.Priority,
		Status:     meta.Status,
		Owner:      meta.Owner,
		Stories:    b.normRefs(meta.StoryRefs),
		Bugs:       b.normRefs(meta.BugRefs),
		Automation: meta.Automation.Status,
		Path:       rel,
	}, warnings, nil
}

// normRefs turns issue references into links when the CI server URL is
// known; anything that does not match group/project#123 stays plain text.
func (b *Builder) normRefs(refs []string) []Ref {
	out := make([]Ref, 0, len(refs))
	ciURL := strings.TrimRight(b.cfg.CIServerURL, "/")
	for _, s := range refs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		ref := Ref{Text: s}
		if m := issueRefRe.FindStringSubmatch(s); m != nil && ciURL != "" {
			ref.URL = fmt.Sprintf("%s/%s/-/issues/%s", ciURL, m[1], m[2])
		}
		out = append(out, ref)
	}
	return out
}

// Build scans the tree and writes every output format to the out
// directory.
func (b *Builder) Build(ctx context.Context) (*Matrix, error) {
	m, err := b.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.cfg.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", b.cfg.OutDir, err)
	}

	out := func(name string) string { return filepath.Join(b.cfg.OutDir, name) }
	if err := writeCSVFile(m.Rows, out("traceability.csv")); err != nil {
		return nil, err
	}
	if err := writeXLSX(m.Rows, out("traceability.xlsx")); err != nil {
		// Excel output is best-effort, same as a missing optional dep.
		m.Warnings = append(m.Warnings, fmt.Sprintf("Excel export skipped: %v", err))
		b.logger.Warn("excel export skipped", zap.Error(err))
	}
	if err := writeHTMLFile(m.Rows, out("index.html")); err != nil {
		return nil, err
	}
	if err := writeStats(m.Rows, out("stats.json"), out("stats.html")); err != nil {
		return nil, err
	}
	if err := writeWarnings(m.Warnings, out("warnings.txt")); err != nil {
		return nil, err
	}

	b.logger.Info("built traceability matrix",
		zap.Int("cases", len(m.Rows)), zap.String("out", b.cfg.OutDir))
	return m, nil
}
