package service

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/config"
	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
	"github.com/Gopher0727/TimeChat/internal/repository"
	"github.com/Gopher0727/TimeChat/utils/bloom"
)

const (
	DefaultAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultCodeLength = 6
	MinCodeLength     = 4
	MaxCodeLength     = 16

	filterCapacity = 10000
	filterFPRate   = 0.001

	// candidates drawn per attempt while looking for one the filter has not seen
	freshDraws = 4
)

// CodeGenerator draws invite codes and checks them against the active set.
//
// Every candidate is confirmed against the active codes in the store, so
// exhaustion only follows real collisions. Issued codes are remembered in a
// bloom filter that steers each attempt towards a candidate it has not seen.
// The filter is rebuilt from the active set once it reaches capacity. The
// unique index on active codes stays the final arbiter.
type CodeGenerator struct {
	invites     repository.IInviteRepository
	alphabet    string
	length      int
	maxAttempts int
	seen        atomic.Pointer[bloom.Filter]
	random      io.Reader
	logger      *zap.Logger
}

func NewCodeGenerator(invites repository.IInviteRepository, cfg config.InviteConfig, logger *zap.Logger) *CodeGenerator {
	alphabet := cfg.Alphabet
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	length := cfg.CodeLength
	if length == 0 {
		length = DefaultCodeLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &CodeGenerator{
		invites:     invites,
		alphabet:    alphabet,
		length:      length,
		maxAttempts: max(cfg.MaxAttempts, 1),
		random:      rand.Reader,
		logger:      logger,
	}
	g.seen.Store(bloom.New(filterCapacity, filterFPRate))
	return g
}

// Generate returns a token of the given length drawn uniformly from the alphabet.
func (g *CodeGenerator) Generate(length int) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", errs.Validation("code length must be between %d and %d", MinCodeLength, MaxCodeLength)
	}
	n := big.NewInt(int64(len(g.alphabet)))
	buf := make([]byte, length)
	for i := range buf {
		idx, err := rand.Int(g.random, n)
		if err != nil {
			return "", errs.Upstream("failed to read randomness", err)
		}
		buf[i] = g.alphabet[idx.Int64()]
	}
	return string(buf), nil
}

// IsUnique reports whether no active code uses token. Inactive and
// expired-but-deactivated codes do not count.
func (g *CodeGenerator) IsUnique(ctx context.Context, token string) (bool, error) {
	exists, err := g.invites.ExistsActive(ctx, token)
	if err != nil {
		return false, errs.Upstream("failed to check invite code", err)
	}
	return !exists, nil
}

// Next draws candidates until the store confirms one is unique, giving up
// after maxAttempts collisions.
func (g *CodeGenerator) Next(ctx context.Context) (string, error) {
	if g.seen.Load().Full() {
		if err := g.Refresh(ctx); err != nil {
			g.logger.Warn("rebuild issued code filter failed", zap.Error(err))
		}
	}

	for range g.maxAttempts {
		code, err := g.draw()
		if err != nil {
			return "", err
		}
		unique, err := g.IsUnique(ctx, code)
		if err != nil {
			return "", err
		}
		if unique {
			return code, nil
		}
		// issued by another instance
		g.Remember(code)
	}
	g.logger.Error("invite code space exhausted",
		zap.Int("attempts", g.maxAttempts),
		zap.Int("length", g.length),
		zap.Uint("remembered", g.seen.Load().Len()),
	)
	return "", ErrCodeSpaceExhausted
}

// draw returns the first of up to freshDraws candidates the filter has not
// seen, or the last one drawn.
func (g *CodeGenerator) draw() (string, error) {
	seen := g.seen.Load()
	var code string
	for range freshDraws {
		var err error
		code, err = g.Generate(g.length)
		if err != nil {
			return "", err
		}
		if !seen.MayContain(code) {
			break
		}
	}
	return code, nil
}

// Remember records an issued code so later draws prefer other candidates.
func (g *CodeGenerator) Remember(code string) {
	g.seen.Load().Add(code)
}

// Refresh rebuilds the filter from the active codes in the store, dropping
// codes that were deactivated since. The new filter has room for at least
// twice the active set.
func (g *CodeGenerator) Refresh(ctx context.Context) error {
	codes, err := g.invites.ListActiveCodes(ctx)
	if err != nil {
		return errs.Upstream("failed to list active codes", err)
	}
	fresh := bloom.New(max(filterCapacity, 2*uint(len(codes))), filterFPRate)
	fresh.Reset(codes)
	g.seen.Store(fresh)
	return nil
}
