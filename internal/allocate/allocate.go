// Package allocate computes collision-free test-case identifiers and
// branch names against the remote store. Every check here is a fresh read
// of externally-owned state; allocation is advisory, not transactional, so
// a concurrent publisher can still race between a probe and the commit.
package allocate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"tcwright/internal/store"
)

// maxProbes bounds the re-probe loops. A pathological listing (or a store
// that answers "exists" for everything) must not spin forever.
const maxProbes = 50

// ErrExhausted is returned when a free id or branch name could not be
// found within the probe budget.
var ErrExhausted = errors.New("allocation probe budget exhausted")

// FormatID renders the canonical <APP>-TC-<NNN> identifier. Numbers are
// zero-padded to three digits; wider numbers simply grow.
func FormatID(app string, n int) string {
	return fmt.Sprintf("%s-TC-%03d", app, n)
}

// NextID computes the next identifier for (app, area) as max-plus-one over
// the existing listing, ignoring gaps. An empty or unreachable listing
// starts the sequence at 001.
func NextID(ctx context.Context, s store.Store, app, area string) string {
	return FormatID(app, maxExisting(ctx, s, app, area)+1)
}

// NextFreeID is the stricter variant publishers must use: after computing
// a candidate it re-probes the candidate's exact file path and increments
// past anything a concurrent writer has since created. The loop is bounded;
// on exhaustion the last candidate is returned together with ErrExhausted.
func NextFreeID(ctx context.Context, s store.Store, app, area string) (string, error) {
	n := maxExisting(ctx, s, app, area) + 1
	id := FormatID(app, n)
	for i := 0; i < maxProbes; i++ {
		taken, err := s.FileExists(ctx, store.CasePath(app, area, id), s.DefaultBranch())
		if err != nil {
			return id, err
		}
		if !taken {
			return id, nil
		}
		n++
		id = FormatID(app, n)
	}
	return id, fmt.Errorf("%w: no free id after %d probes for %s / %s", ErrExhausted, maxProbes, app, area)
}

// BranchBase derives the deterministic branch name for a publish:
// feat/<app>-<area-path-with-slashes-hyphenated>-<id>, lower-cased.
func BranchBase(app, area, id string) string {
	safeArea := strings.ReplaceAll(store.AreaPath(area), "/", "-")
	return strings.ToLower(fmt.Sprintf("feat/%s-%s-%s", strings.ToLower(app), safeArea, id))
}

// UniqueBranch returns base when neither an existing branch nor an open
// merge request targeting the default branch collides with it; otherwise
// it appends -v2, -v3, ... until a free candidate is found. The
// check-then-act is best effort: a racing publisher on the identical name
// can still collide, but stale-branch reuse, the dominant failure mode,
// is caught.
func UniqueBranch(ctx context.Context, s store.Store, base string) (string, error) {
	collides, err := branchTaken(ctx, s, base)
	if err != nil {
		return "", err
	}
	if !collides {
		return base, nil
	}
	for i := 2; i < 2+maxProbes; i++ {
		cand := fmt.Sprintf("%s-v%d", base, i)
		collides, err := branchTaken(ctx, s, cand)
		if err != nil {
			return "", err
		}
		if !collides {
			return cand, nil
		}
	}
	return "", fmt.Errorf("%w: no free branch name derived from %s", ErrExhausted, base)
}

func branchTaken(ctx context.Context, s store.Store, branch string) (bool, error) {
	mr, err := s.FindOpenMergeRequest(ctx, branch)
	if err != nil {
		return false, err
	}
	if mr != "" {
		return true, nil
	}
	return s.BranchExists(ctx, branch)
}

// maxExisting scans the case listing for <app>-TC-<digits>.md names
// (case-insensitively) and returns the highest number found, 0 when none.
func maxExisting(ctx context.Context, s store.Store, app, area string) int {
	files, err := s.ListCaseFiles(ctx, app, area)
	if err != nil {
		return 0
	}
	re := regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(app) + `-TC-(\d+)\.md$`)
	max := 0
	for _, name := range files {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return max
}
