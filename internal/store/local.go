package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Local implements Store against a scratch directory on disk. It is the
// degraded mode used when GitLab credentials are absent: publishes land as
// plain files and the "merge request" is a file:// URL. Because it lists
// its own directory, repeated local publishes still allocate increasing
// ids, which keeps the suggest-id endpoint honest in demo setups.
type Local struct {
	root   string
	logger *zap.Logger

	mu       sync.Mutex
	branches map[string]bool
	lastPath string
}

// NewLocal creates a scratch store rooted at dir.
func NewLocal(dir string, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		root:     dir,
		logger:   logger,
		branches: make(map[string]bool),
	}
}

// DefaultBranch implements Store.
func (l *Local) DefaultBranch() string { return "main" }

// ListCaseFiles implements Store.
func (l *Local) ListCaseFiles(ctx context.Context, app, area string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, filepath.FromSlash(CaseDir(app, area))))
	if err != nil {
		return nil, nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// FileExists implements Store.
func (l *Local) FileExists(ctx context.Context, path, ref string) (bool, error) {
	_, err := os.Stat(filepath.Join(l.root, filepath.FromSlash(path)))
	return err == nil, nil
}

// CreateBranch implements Store. Branches are bookkeeping only.
func (l *Local) CreateBranch(ctx context.Context, branch, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.branches[branch] = true
	return nil
}

// BranchExists implements Store.
func (l *Local) BranchExists(ctx context.Context, branch string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.branches[branch], nil
}

// CommitFile implements Store.
func (l *Local) CommitFile(ctx context.Context, branch, path, content, message string) error {
	full := filepath.Join(l.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write scratch file: %w", err)
	}
	l.mu.Lock()
	l.lastPath = full
	l.mu.Unlock()
	l.logger.Debug("committed to scratch store", zap.String("path", full), zap.String("branch", branch))
	return nil
}

// OpenMergeRequest implements Store. Writes a small mr_body.md the UI can
// link to and returns a file:// URL for the committed case.
func (l *Local) OpenMergeRequest(ctx context.Context, sourceBranch, title, description string) (string, error) {
	l.mu.Lock()
	last := l.lastPath
	l.mu.Unlock()

	if last == "" {
		return "", fmt.Errorf("nothing committed to scratch store yet")
	}

	body := fmt.Sprintf("# %s\n\n- Branch: `%s`\n- File: `%s`\n\n%s\n", title, sourceBranch, last, description)
	if err := os.WriteFile(filepath.Join(l.root, "mr_body.md"), []byte(body), 0644); err != nil {
		return "", fmt.Errorf("failed to write mr body: %w", err)
	}

	abs, err := filepath.Abs(last)
	if err != nil {
		abs = last
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// FindOpenMergeRequest implements Store. Scratch mode never has one.
func (l *Local) FindOpenMergeRequest(ctx context.Context, sourceBranch string) (string, error) {
	return "", nil
}
