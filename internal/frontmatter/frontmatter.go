// Package frontmatter parses, lints and rewrites the YAML front-matter
// block of test-case Markdown documents. All rewrites go through yaml.Node
// so author key order survives the round trip.
package frontmatter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RequiredKeys must all be present in a lint-clean document.
var RequiredKeys = []string{"id", "app", "area", "suite", "type", "priority", "status", "owner", "automation"}

// ListKeys default to an empty list when absent or null.
var ListKeys = []string{"story_refs", "bug_refs", "links"}

// ErrUnparsableFrontMatter is returned by SetID when a front-matter block
// exists but its YAML cannot be decoded. The document is returned unchanged
// so no author content is lost.
var ErrUnparsableFrontMatter = errors.New("front-matter block is not valid YAML")

// ErrMissingFrontMatter is returned by ParseMeta when no block is present.
var ErrMissingFrontMatter = errors.New("missing YAML front-matter")

// Tolerates a UTF-8 BOM, leading whitespace and CRLF line endings.
var blockRe = regexp.MustCompile(`(?s)^\x{FEFF}?\s*---[ \t]*\r?\n(.*?)\r?\n---[ \t]*(?:\r?\n|$)`)

// Model output sometimes arrives with the metadata in a fenced code block
// instead of a real front-matter block.
var fencedRe = regexp.MustCompile("(?s)^\\s*```(?:yaml)?[ \t]*\r?\n(.*?)\r?\n```[ \t]*(?:\r?\n|$)")

// Extract splits a document into its front-matter YAML source and the body
// that follows the closing delimiter. ok is false when no block is present,
// in which case body is the whole document.
func Extract(md string) (yamlSrc, body string, ok bool) {
	m := blockRe.FindStringSubmatchIndex(md)
	if m == nil {
		return "", md, false
	}
	return md[m[2]:m[3]], md[m[1]:], true
}

// ParseID returns the front-matter id value. It reports false when the
// document has no block, the YAML is broken, or id is absent or blank.
func ParseID(md string) (string, bool) {
	yamlSrc, _, ok := Extract(md)
	if !ok {
		return "", false
	}
	meta, err := decodeMapping(yamlSrc)
	if err != nil {
		return "", false
	}
	v := mappingGet(meta, "id")
	if v == nil || v.Kind != yaml.ScalarNode {
		return "", false
	}
	id := strings.TrimSpace(v.Value)
	return id, id != ""
}

// SetID rewrites the front-matter id, keeping every other key in its
// original order. A document without a block is returned unchanged with a
// nil error. A document whose block cannot be decoded is returned unchanged
// with ErrUnparsableFrontMatter.
func SetID(md, id string) (string, error) {
	yamlSrc, body, ok := Extract(md)
	if !ok {
		return md, nil
	}
	meta, err := decodeMapping(yamlSrc)
	if err != nil {
		return md, ErrUnparsableFrontMatter
	}
	mappingSet(meta, "id", scalarNode(id))
	encoded, err := encodeMapping(meta)
	if err != nil {
		return md, fmt.Errorf("failed to re-encode front-matter: %w", err)
	}
	return spliceBlock(encoded, body), nil
}

// Result is the outcome of a Lint pass.
type Result struct {
	OK         bool
	Errors     []string
	Normalized string
}

// Lint checks a document's front-matter against the authoring contract and
// returns a normalized rendition: list keys defaulted to [], an @-prefixed
// owner quoted, key order preserved. A document with no block, or with YAML
// that will not parse, has no normalized form.
func Lint(md string) Result {
	yamlSrc, body, ok := Extract(md)
	if !ok {
		return Result{Errors: []string{"Missing YAML front-matter"}}
	}
	meta, err := decodeMapping(yamlSrc)
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("YAML parse error: %v", err)}}
	}

	var errs []string

	if v := mappingGet(meta, "owner"); v != nil && v.Kind == yaml.ScalarNode && strings.HasPrefix(v.Value, "@") {
		v.Value = `"` + v.Value + `"`
		v.Style = yaml.SingleQuotedStyle
	}

	for _, k := range ListKeys {
		v := mappingGet(meta, k)
		switch {
		case v == nil || isNull(v):
			mappingSet(meta, k, emptyListNode())
		case v.Kind != yaml.SequenceNode:
			errs = append(errs, fmt.Sprintf("%s must be a list", k))
		}
	}

	for _, k := range RequiredKeys {
		if mappingGet(meta, k) == nil {
			errs = append(errs, fmt.Sprintf("Missing key: %s", k))
		}
	}

	encoded, err := encodeMapping(meta)
	if err != nil {
		return Result{Errors: append(errs, fmt.Sprintf("failed to re-encode front-matter: %v", err))}
	}
	return Result{
		OK:         len(errs) == 0,
		Errors:     errs,
		Normalized: spliceBlock(encoded, body),
	}
}

// EnsureFrontMatter promotes a leading fenced YAML code block to a real
// front-matter block. Documents that already carry one, or carry neither,
// come back untouched.
func EnsureFrontMatter(md string) string {
	if blockRe.MatchString(md) {
		return md
	}
	m := fencedRe.FindStringSubmatchIndex(md)
	if m == nil {
		return md
	}
	yamlSrc := strings.TrimSpace(md[m[2]:m[3]])
	rest := strings.TrimLeft(md[m[1]:], " \t\r\n")
	return "---\n" + yamlSrc + "\n---\n\n" + rest
}

// Meta carries the front-matter fields the traceability matrix reports on.
type Meta struct {
	ID        string   `yaml:"id"`
	App       string   `yaml:"app"`
	Area      string   `yaml:"area"`
	Suite     string   `yaml:"suite"`
	Type      string   `yaml:"type"`
	Priority  string   `yaml:"priority"`
	Status    string   `yaml:"status"`
	Owner     string   `yaml:"owner"`
	StoryRefs []string `yaml:"story_refs"`
	BugRefs   []string `yaml:"bug_refs"`
	Automation struct {
		Status string `yaml:"status"`
	} `yaml:"automation"`
}

// ParseMeta decodes the front-matter block into a Meta. It returns
// ErrMissingFrontMatter when the document has no block.
func ParseMeta(md string) (Meta, error) {
	yamlSrc, _, ok := Extract(md)
	if !ok {
		return Meta{}, ErrMissingFrontMatter
	}
	var m Meta
	if err := yaml.Unmarshal([]byte(yamlSrc), &m); err != nil {
		return Meta{}, fmt.Errorf("failed to parse front-matter: %w", err)
	}
	return m, nil
}

func decodeMapping(src string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 || isNull(doc.Content[0]) {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	if doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("front-matter is not a mapping")
	}
	return doc.Content[0], nil
}

func encodeMapping(n *yaml.Node) (string, error) {
	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// A mapping node's Content is a flat key, value, key, value slice.
func mappingGet(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func mappingSet(m *yaml.Node, key string, val *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = val
			return
		}
	}
	m.Content = append(m.Content, scalarNode(key), val)
}

func scalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func emptyListNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
}

func isNull(n *yaml.Node) bool {
	return n.Tag == "!!null" || (n.Kind == 0 && len(n.Content) == 0)
}

func spliceBlock(encoded, body string) string {
	return "---\n" + encoded + "\n---\n\n" + strings.TrimLeft(body, " \t\r\n")
}
