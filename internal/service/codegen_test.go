package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
	"github.com/Gopher0727/TimeChat/internal/repository/memory"
)

// zeroReader makes crypto draws deterministic: every index is 0.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestGenerateUsesAlphabet(t *testing.T) {
	g := NewCodeGenerator(memory.NewStore().Invites(), testInviteConfig(), nil)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("codes have the requested length and alphabet", prop.ForAll(
		func(length int) bool {
			code, err := g.Generate(length)
			if err != nil || len(code) != length {
				return false
			}
			for _, r := range code {
				if !strings.ContainsRune(DefaultAlphabet, r) {
					return false
				}
			}
			return true
		},
		gen.IntRange(MinCodeLength, MaxCodeLength),
	))

	properties.TestingRun(t)
}

func TestGenerateRejectsBadLength(t *testing.T) {
	g := NewCodeGenerator(memory.NewStore().Invites(), testInviteConfig(), nil)

	for _, n := range []int{0, MinCodeLength - 1, MaxCodeLength + 1} {
		_, err := g.Generate(n)
		assert.ErrorIs(t, err, errs.ErrValidation, "length %d", n)
	}
}

func TestIsUniqueChecksActiveCodesOnly(t *testing.T) {
	ctx := context.Background()
	invites := memory.NewStore().Invites()
	g := NewCodeGenerator(invites, testInviteConfig(), nil)

	code := &model.InviteCode{ID: "c1", Code: "ABC123", ChatID: "r1", IsActive: true, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, invites.Create(ctx, code))

	unique, err := g.IsUnique(ctx, "ABC123")
	require.NoError(t, err)
	assert.False(t, unique)

	require.NoError(t, invites.Deactivate(ctx, "c1"))
	unique, err = g.IsUnique(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, unique, "inactive codes may be reused")
}

func TestNextGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	invites := memory.NewStore().Invites()
	g := NewCodeGenerator(invites, testInviteConfig(), nil)
	g.random = zeroReader{}

	code, err := g.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", code)

	require.NoError(t, invites.Create(ctx, &model.InviteCode{
		ID: "c1", Code: code, ChatID: "r1", IsActive: true, ExpiresAt: time.Now().Add(time.Hour),
	}))
	_, err = g.Next(ctx)
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.ErrorIs(t, err, errs.ErrCodeSpaceExhausted)
}

func TestNextPrefersUnseenCandidates(t *testing.T) {
	ctx := context.Background()
	g := NewCodeGenerator(memory.NewStore().Invites(), testInviteConfig(), nil)
	// one byte per symbol: six draws of index 0, then six of index 1
	g.random = bytes.NewReader(append(bytes.Repeat([]byte{0}, 6), bytes.Repeat([]byte{1}, 6)...))

	g.Remember("AAAAAA")
	code, err := g.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", code)
}

func TestNextConfirmsRememberedCodesWithStore(t *testing.T) {
	ctx := context.Background()
	g := NewCodeGenerator(memory.NewStore().Invites(), testInviteConfig(), nil)
	g.random = zeroReader{}

	// remembered but no longer active, so it may be issued again
	g.Remember("AAAAAA")
	code, err := g.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", code)
}

func TestNextSurvivesSaturatedFilter(t *testing.T) {
	ctx := context.Background()
	invites := memory.NewStore().Invites()
	g := NewCodeGenerator(invites, testInviteConfig(), nil)

	require.NoError(t, invites.Create(ctx, &model.InviteCode{
		ID: "c1", Code: "KEEP01", ChatID: "r1", IsActive: true, ExpiresAt: time.Now().Add(time.Hour),
	}))
	for i := range 12 * filterCapacity {
		g.Remember(fmt.Sprintf("%06d", i))
	}
	require.True(t, g.seen.Load().Full())

	for range 20 {
		_, err := g.Next(ctx)
		require.NoError(t, err)
	}
	filter := g.seen.Load()
	assert.False(t, filter.Full(), "filter is rebuilt from the active set")
	assert.True(t, filter.MayContain("KEEP01"))
}

func TestRefreshGrowsFilterWithActiveSet(t *testing.T) {
	ctx := context.Background()
	invites := memory.NewStore().Invites()
	g := NewCodeGenerator(invites, testInviteConfig(), nil)

	for i := range filterCapacity {
		require.NoError(t, invites.Create(ctx, &model.InviteCode{
			ID:        fmt.Sprintf("c%d", i),
			Code:      fmt.Sprintf("C%05d", i),
			ChatID:    "r1",
			IsActive:  true,
			ExpiresAt: time.Now().Add(time.Hour),
		}))
	}
	require.NoError(t, g.Refresh(ctx))

	filter := g.seen.Load()
	assert.EqualValues(t, 2*filterCapacity, filter.Cap())
	assert.False(t, filter.Full())
}

func TestGenerateIsRoughlyUniform(t *testing.T) {
	g := NewCodeGenerator(memory.NewStore().Invites(), testInviteConfig(), nil)

	counts := make(map[byte]int)
	const draws = 2000
	for range draws {
		code, err := g.Generate(MaxCodeLength)
		require.NoError(t, err)
		for i := range len(code) {
			counts[code[i]]++
		}
	}
	assert.Len(t, counts, len(DefaultAlphabet))

	expected := draws * MaxCodeLength / len(DefaultAlphabet)
	for c, n := range counts {
		assert.InDelta(t, expected, n, float64(expected)/2, "symbol %q", c)
	}
}

func TestGenerateFailsOnBrokenRandomness(t *testing.T) {
	g := NewCodeGenerator(memory.NewStore().Invites(), testInviteConfig(), nil)
	g.random = bytes.NewReader(nil)

	_, err := g.Generate(DefaultCodeLength)
	assert.ErrorIs(t, err, errs.ErrUpstream)
}
