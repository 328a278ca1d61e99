// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"tcwright/internal/store"
)

// Fake is an in-memory store.Store. Zero value is not usable; construct
// with New.
type Fake struct {
	mu sync.Mutex

	// Seeded state
	Files    map[string][]string // "app|area" -> file names
	Existing map[string]bool     // case path -> exists on default branch
	Branches map[string]bool
	OpenMRs  map[string]string // source branch -> web URL

	// Recorded effects
	Committed     map[string]string // path -> content
	CommitBranch  string
	CommitMessage string

	// Failure injection
	CreateBranchErr error
	CommitErr       error
	OpenErr         error

	// ConflictOnOpen makes OpenMergeRequest fail with a 409 while
	// registering the merge request as if a concurrent publisher had just
	// opened it, so a follow-up FindOpenMergeRequest succeeds.
	ConflictOnOpen bool

	// LateMRs become visible only on the second lookup of a branch,
	// simulating a merge request opened concurrently after the dedup pass
	// already checked the name.
	LateMRs map[string]string

	lookups map[string]int
}

// New returns an empty fake store.
func New() *Fake {
	return &Fake{
		Files:     make(map[string][]string),
		Existing:  make(map[string]bool),
		Branches:  make(map[string]bool),
		OpenMRs:   make(map[string]string),
		Committed: make(map[string]string),
		LateMRs:   make(map[string]string),
		lookups:   make(map[string]int),
	}
}

func key(app, area string) string { return app + "|" + area }

// SeedFiles sets the listing for (app, area).
func (f *Fake) SeedFiles(app, area string, names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files[key(app, area)] = names
}

// DefaultBranch implements store.Store.
func (f *Fake) DefaultBranch() string { return "main" }

// ListCaseFiles implements store.Store.
func (f *Fake) ListCaseFiles(ctx context.Context, app, area string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Files[key(app, area)]...), nil
}

// FileExists implements store.Store.
func (f *Fake) FileExists(ctx context.Context, path, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Existing[path], nil
}

// CreateBranch implements store.Store.
func (f *Fake) CreateBranch(ctx context.Context, branch, ref string) error {
	if f.CreateBranchErr != nil {
		return f.CreateBranchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Branches[branch] = true
	return nil
}

// BranchExists implements store.Store.
func (f *Fake) BranchExists(ctx context.Context, branch string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Branches[branch], nil
}

// CommitFile implements store.Store.
func (f *Fake) CommitFile(ctx context.Context, branch, path, content, message string) error {
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Committed[path] = content
	f.CommitBranch = branch
	f.CommitMessage = message
	return nil
}

// OpenMergeRequest implements store.Store.
func (f *Fake) OpenMergeRequest(ctx context.Context, sourceBranch, title, description string) (string, error) {
	if f.OpenErr != nil {
		return "", f.OpenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	url := "https://gitlab.example.com/mr/" + sourceBranch
	if f.ConflictOnOpen {
		f.OpenMRs[sourceBranch] = url
		return "", &store.APIError{Status: 409, Body: fmt.Sprintf("merge request for %s already exists", sourceBranch)}
	}
	f.OpenMRs[sourceBranch] = url
	return url, nil
}

// FindOpenMergeRequest implements store.Store.
func (f *Fake) FindOpenMergeRequest(ctx context.Context, sourceBranch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups[sourceBranch]++
	if url := f.OpenMRs[sourceBranch]; url != "" {
		return url, nil
	}
	if f.lookups[sourceBranch] > 1 {
		return f.LateMRs[sourceBranch], nil
	}
	return "", nil
}
