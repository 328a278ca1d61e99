// Package store defines the remote test-case repository port and its two
// adapters: the GitLab REST implementation and a local scratch fallback
// used when no store credentials are configured.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store is the capability surface the publish pipeline needs from the
// hosted repository. Reads treat an unreachable or missing resource as
// absent; mutations surface failures as *APIError.
type Store interface {
	// ListCaseFiles returns the markdown file names under the case
	// directory for (app, area). Missing directory or unreachable store
	// yields an empty list, not an error.
	ListCaseFiles(ctx context.Context, app, area string) ([]string, error)

	// FileExists probes a repository path on the given ref.
	FileExists(ctx context.Context, path, ref string) (bool, error)

	// CreateBranch creates branch from ref. An already existing branch is
	// success, not failure.
	CreateBranch(ctx context.Context, branch, ref string) error

	// BranchExists probes a branch by name.
	BranchExists(ctx context.Context, branch string) (bool, error)

	// CommitFile commits content to path on branch, creating the file or
	// updating it when it already exists there.
	CommitFile(ctx context.Context, branch, path, content, message string) error

	// OpenMergeRequest opens a merge request from sourceBranch into the
	// default branch and returns its web URL.
	OpenMergeRequest(ctx context.Context, sourceBranch, title, description string) (string, error)

	// FindOpenMergeRequest returns the web URL of an open merge request
	// whose source branch is sourceBranch and whose target is the default
	// branch, or "" when there is none.
	FindOpenMergeRequest(ctx context.Context, sourceBranch string) (string, error)

	// DefaultBranch is the branch new work forks from and targets.
	DefaultBranch() string
}

// APIError carries a remote store failure's HTTP status and raw body so
// handlers can surface the upstream response unchanged.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote store returned %d: %s", e.Status, e.Body)
}

// IsConflict reports whether err is an APIError with a conflict status,
// the signal that a concurrent publisher already opened the merge request.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 409
}

// AreaPath maps an area like "Checkout > Payment Methods" onto its
// repository directory: segments lower-cased, spaces hyphenated, joined
// with "/".
func AreaPath(area string) string {
	parts := strings.Split(area, ">")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(p)), " ", "-")
	}
	return strings.Join(parts, "/")
}

// CaseDir is the canonical directory holding (app, area)'s case files.
func CaseDir(app, area string) string {
	return fmt.Sprintf("apps/%s/areas/%s", strings.ToLower(app), AreaPath(area))
}

// CasePath is the canonical repository path of one case file.
func CasePath(app, area, id string) string {
	return fmt.Sprintf("%s/%s.md", CaseDir(app, area), id)
}
