// Package publish turns a generated document into a committed file plus an
// open merge request: id resolution, collision checks, branch naming,
// commit and request creation, in one request-scoped sequence.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tcwright/internal/allocate"
	"tcwright/internal/frontmatter"
	"tcwright/internal/store"
)

// Request is one publish operation.
type Request struct {
	App         string
	Area        string
	Markdown    string
	PreferredID string
	StoryRefs   []string
}

// Result is the outcome of a successful publish.
type Result struct {
	ID     string
	Branch string
	MRURL  string
}

// Publisher sequences the publish steps against a store. It holds no state
// across requests; the remote store is the only shared resource and every
// check is a fresh read.
type Publisher struct {
	store  store.Store
	logger *zap.Logger
}

// New creates a Publisher.
func New(s store.Store, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{store: s, logger: logger}
}

// Publish runs the full pipeline. Remote failures not absorbed by the
// individual steps abort the operation with the store's status and body
// intact; branches or commits already created are left in place as
// recoverable leftovers, never rolled back.
func (p *Publisher) Publish(ctx context.Context, req Request) (Result, error) {
	markdown := req.Markdown

	// Step 1: resolve the intended id. A document that already names
	// itself wins over the caller's preference, which wins over a fresh
	// allocation.
	id, ok := frontmatter.ParseID(markdown)
	if !ok {
		if preferred := strings.TrimSpace(req.PreferredID); preferred != "" {
			id = preferred
		} else {
			id = allocate.NextID(ctx, p.store, req.App, req.Area)
		}
	}

	// Step 2: the intended id may already be taken on the default branch;
	// reallocate with the race-closing variant and rewrite the document.
	path := store.CasePath(req.App, req.Area, id)
	taken, err := p.store.FileExists(ctx, path, p.store.DefaultBranch())
	if err != nil {
		return Result{}, err
	}
	if taken {
		bumped, err := allocate.NextFreeID(ctx, p.store, req.App, req.Area)
		if err != nil {
			return Result{}, fmt.Errorf("failed to reallocate id for %s: %w", id, err)
		}
		p.logger.Info("intended id already taken, reallocated",
			zap.String("intended", id), zap.String("allocated", bumped))

		rewritten, err := frontmatter.SetID(markdown, bumped)
		if err != nil {
			// Refuse to clobber a block we cannot parse; the document
			// keeps its broken metadata and the new id names the file.
			if !errors.Is(err, frontmatter.ErrUnparsableFrontMatter) {
				return Result{}, err
			}
			p.logger.Warn("front-matter unparseable, publishing without id rewrite",
				zap.String("id", bumped))
		} else {
			markdown = rewritten
		}
		id = bumped
		path = store.CasePath(req.App, req.Area, id)
	}

	// Steps 3-4: deterministic branch name, deduplicated, and a note of
	// any merge request already open for it.
	branch, err := allocate.UniqueBranch(ctx, p.store, allocate.BranchBase(req.App, req.Area, id))
	if err != nil {
		return Result{}, err
	}
	existingMR, err := p.store.FindOpenMergeRequest(ctx, branch)
	if err != nil {
		return Result{}, err
	}

	// Step 5: ensure the branch. "Already exists" is success inside the
	// adapter.
	if err := p.store.CreateBranch(ctx, branch, p.store.DefaultBranch()); err != nil {
		return Result{}, err
	}

	// Step 6: commit. Create-then-update fallback lives in the adapter.
	message := fmt.Sprintf("add/update test case %s for %s / %s", id, req.App, req.Area)
	if err := p.store.CommitFile(ctx, branch, path, markdown, message); err != nil {
		return Result{}, err
	}

	// Step 7: reuse the open request when there is one, otherwise open.
	if existingMR != "" {
		p.logger.Info("reusing open merge request",
			zap.String("branch", branch), zap.String("url", existingMR))
		return Result{ID: id, Branch: branch, MRURL: existingMR}, nil
	}

	title := fmt.Sprintf("[TC] %s - %s / %s", id, req.App, req.Area)
	mrURL, err := p.store.OpenMergeRequest(ctx, branch, title, mrDescription(req))
	if err != nil {
		// A concurrent publisher may have opened it between the check and
		// the create; one re-lookup settles it.
		if store.IsConflict(err) {
			if found, ferr := p.store.FindOpenMergeRequest(ctx, branch); ferr == nil && found != "" {
				p.logger.Info("merge request opened concurrently, reusing",
					zap.String("branch", branch), zap.String("url", found))
				return Result{ID: id, Branch: branch, MRURL: found}, nil
			}
		}
		return Result{}, err
	}

	p.logger.Info("published test case",
		zap.String("id", id), zap.String("branch", branch), zap.String("url", mrURL))
	return Result{ID: id, Branch: branch, MRURL: mrURL}, nil
}

func mrDescription(req Request) string {
	desc := "New test case generated by QA Assist"
	if len(req.StoryRefs) > 0 {
		desc += "\n\nStories: " + strings.Join(req.StoryRefs, ", ")
	}
	return desc
}
