package generate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tcwright/internal/frontmatter"
)

// Caps on what leaves the process: notes are trimmed before prompting and
// completions are bounded server-side.
const (
	maxOutputTokens = 1200
	maxNotesChars   = 4000
	stubNotesChars  = 200
)

const systemPrompt = `You are a senior QA engineer. Generate ONE Markdown test case using this layout.
The document MUST begin with YAML front-matter delimited by three dashes:
---
<yaml keys/values>
---
Front-matter keys: id, app, area, suite, type, priority, status, story_refs, bug_refs, owner, automation, links.
Rules:
- type: Functional by default
- status: Draft unless implied otherwise
- story_refs, bug_refs, links are YAML lists (can be [])
- owner is a quoted string
- automation.status: Planned | Automated | NotApplicable
After the front-matter, include these sections in order:
# <Title>
## Preconditions
## Steps & Expected
## Negative / Edge
## Notes
Return ONLY Markdown.`

// Request carries the inputs for one generation.
type Request struct {
	App      string
	Area     string
	Suite    string
	Priority string
	Notes    string
}

// Generator produces test-case documents. A nil completer means only stub
// mode is available.
type Generator struct {
	completer Completer
	logger    *zap.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(completer Completer, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{completer: completer, logger: logger}
}

// AIConfigured reports whether a completion backend is wired in.
func (g *Generator) AIConfigured() bool { return g.completer != nil }

// Generate returns a Markdown document for the request. Mode "stub" forces
// the template, "ai" forces the backend (failing when none is configured),
// and empty mode picks the backend when one is available.
func (g *Generator) Generate(ctx context.Context, req Request, mode string) (string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	useAI := g.completer != nil
	switch mode {
	case "stub":
		useAI = false
	case "ai":
		if g.completer == nil {
			return "", ErrUnconfigured
		}
		useAI = true
	}

	if !useAI {
		return StubMarkdown(req), nil
	}

	g.logger.Debug("generating via completion backend",
		zap.String("app", req.App), zap.String("area", req.Area))

	md, err := g.completer.CompleteWithSystem(ctx, systemPrompt, userPrompt(req))
	if err != nil {
		return "", err
	}
	return frontmatter.EnsureFrontMatter(strings.TrimSpace(md)), nil
}

func userPrompt(req Request) string {
	notes := req.Notes
	if len(notes) > maxNotesChars {
		notes = notes[:maxNotesChars]
	}
	return fmt.Sprintf(`App: %s
Area: %s
Suite: %s
Priority: %s

Notes from QA (trimmed):
%s
`, req.App, req.Area, req.Suite, req.Priority, notes)
}

// StubMarkdown renders the deterministic template used when no backend is
// configured or the caller asks for a stub explicitly. The id is a
// placeholder; publishing allocates the real one.
func StubMarkdown(req Request) string {
	notes := req.Notes
	if len(notes) > stubNotesChars {
		notes = notes[:stubNotesChars]
	}
	return fmt.Sprintf(`---
id: %[1]s-TC-XXX
app: %[1]s
area: %[2]s
suite: %[3]s
type: Functional
priority: %[4]s
status: Draft
story_refs: []
bug_refs: []
owner: "@your-username"
automation:
  status: Planned
  mapping: ""
links: []
---

# %[2]s: baseline scenario from notes

## Preconditions
- From notes: %[5]s...

## Steps & Expected
1. Describe the user action
   **Expected:** Describe the expected result

## Negative / Edge
- Describe unusual input and expected handling

## Notes
- Add any cleanup / data hints
`, req.App, req.Area, req.Suite, req.Priority, notes)
}
