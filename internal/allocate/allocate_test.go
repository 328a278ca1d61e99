package allocate

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcwright/internal/store"
	"tcwright/internal/store/storetest"
)

func TestFormatID(t *testing.T) {
	assert.Equal(t, "APP1-TC-001", FormatID("APP1", 1))
	assert.Equal(t, "APP1-TC-042", FormatID("APP1", 42))
	assert.Equal(t, "APP1-TC-1000", FormatID("APP1", 1000))
}

func TestNextID(t *testing.T) {
	ctx := context.Background()

	t.Run("max plus one, gaps ignored", func(t *testing.T) {
		f := storetest.New()
		f.SeedFiles("APP1", "X", "APP1-TC-001.md", "APP1-TC-003.md")
		assert.Equal(t, "APP1-TC-004", NextID(ctx, f, "APP1", "X"))
	})

	t.Run("empty listing starts at 001", func(t *testing.T) {
		f := storetest.New()
		assert.Equal(t, "APP1-TC-001", NextID(ctx, f, "APP1", "X"))
	})

	t.Run("matching is case insensitive", func(t *testing.T) {
		f := storetest.New()
		f.SeedFiles("APP1", "X", "app1-tc-007.md")
		assert.Equal(t, "APP1-TC-008", NextID(ctx, f, "APP1", "X"))
	})

	t.Run("foreign files ignored", func(t *testing.T) {
		f := storetest.New()
		f.SeedFiles("APP1", "X", "OTHER-TC-099.md", "README.md", "APP1-TC-002.md")
		assert.Equal(t, "APP1-TC-003", NextID(ctx, f, "APP1", "X"))
	})
}

func TestNextFreeID(t *testing.T) {
	ctx := context.Background()

	t.Run("skips candidates a concurrent writer took", func(t *testing.T) {
		f := storetest.New()
		f.SeedFiles("APP1", "Login", "APP1-TC-005.md")
		// Listing says 006 is next, but 006 and 007 landed since.
		f.Existing[store.CasePath("APP1", "Login", "APP1-TC-006")] = true
		f.Existing[store.CasePath("APP1", "Login", "APP1-TC-007")] = true

		id, err := NextFreeID(ctx, f, "APP1", "Login")
		require.NoError(t, err)
		assert.Equal(t, "APP1-TC-008", id)
	})

	t.Run("first candidate free", func(t *testing.T) {
		f := storetest.New()
		id, err := NextFreeID(ctx, f, "APP1", "Login")
		require.NoError(t, err)
		assert.Equal(t, "APP1-TC-001", id)
	})

	t.Run("probe budget is bounded", func(t *testing.T) {
		f := storetest.New()
		for n := 1; n <= 200; n++ {
			f.Existing[store.CasePath("APP1", "Login", FormatID("APP1", n))] = true
		}

		_, err := NextFreeID(ctx, f, "APP1", "Login")
		assert.ErrorIs(t, err, ErrExhausted)
	})
}

func TestBranchBase(t *testing.T) {
	assert.Equal(t, "feat/app1-login-app1-tc-001", BranchBase("APP1", "Login", "APP1-TC-001"))
	assert.Equal(t, "feat/app1-checkout-payment-methods-app1-tc-003",
		BranchBase("APP1", "Checkout > Payment Methods", "APP1-TC-003"))
}

func TestUniqueBranch(t *testing.T) {
	ctx := context.Background()
	const base = "feat/app1-login-app1-tc-001"

	t.Run("no collision returns input unchanged", func(t *testing.T) {
		f := storetest.New()
		branch, err := UniqueBranch(ctx, f, base)
		require.NoError(t, err)
		assert.Equal(t, base, branch)
	})

	t.Run("existing branch bumps to v2", func(t *testing.T) {
		f := storetest.New()
		f.Branches[base] = true
		branch, err := UniqueBranch(ctx, f, base)
		require.NoError(t, err)
		assert.Equal(t, base+"-v2", branch)
	})

	t.Run("open merge request counts as collision", func(t *testing.T) {
		f := storetest.New()
		f.OpenMRs[base] = "https://gitlab.example.com/mr/1"
		branch, err := UniqueBranch(ctx, f, base)
		require.NoError(t, err)
		assert.Equal(t, base+"-v2", branch)
	})

	t.Run("walks versions until free", func(t *testing.T) {
		f := storetest.New()
		f.Branches[base] = true
		f.Branches[base+"-v2"] = true
		f.OpenMRs[base+"-v3"] = "https://gitlab.example.com/mr/3"
		branch, err := UniqueBranch(ctx, f, base)
		require.NoError(t, err)
		assert.Equal(t, base+"-v4", branch)
	})

	t.Run("suffix search is bounded", func(t *testing.T) {
		f := storetest.New()
		f.Branches[base] = true
		for i := 2; i < 300; i++ {
			f.Branches[base+"-v"+strconv.Itoa(i)] = true
		}
		_, err := UniqueBranch(ctx, f, base)
		assert.ErrorIs(t, err, ErrExhausted)
	})
}
