package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"nounsbot/internal/batch"
	"nounsbot/internal/dispatch"
	"nounsbot/internal/lilnouns"
	"nounsbot/internal/storage"
	"nounsbot/internal/warpcast"
	logx "nounsbot/pkg/logx"
)

// Store keys shared by the jobs.
const (
	KeyAccounts  = "lilnouns-accounts"
	KeyDelegates = "lilnouns-delegates"
	KeyVoters    = "lilnouns-farcaster-voters"
)

// TypeDirectCast is the envelope type consumed by DirectCastHandler.
const TypeDirectCast = "direct-cast"

// DirectCast is the payload of a "direct-cast" envelope.
type DirectCast = warpcast.DirectCast

// Subgraph is the slice of *lilnouns.Client the jobs read.
type Subgraph interface {
	Accounts(ctx context.Context) ([]lilnouns.Account, error)
	Delegates(ctx context.Context) ([]lilnouns.Delegate, error)
	ActiveProposals(ctx context.Context) ([]lilnouns.Proposal, error)
}

// Chain is the slice of *ethereum.Client the reminder reads.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	EstimateBlockTime(ctx context.Context, number uint64) (time.Time, error)
}

// Identity reports the account the bot sends as.
type Identity interface {
	Me(ctx context.Context) (warpcast.User, error)
}

// Resolver maps verified addresses to FIDs. *resolver.Resolver implements it.
type Resolver interface {
	LookupMany(ctx context.Context, addresses []string, concurrency int) (map[string]int64, error)
}

// Sender performs a direct cast. *warpcast.Client implements it.
type Sender interface {
	SendDirectCast(ctx context.Context, dc warpcast.DirectCast) error
}

// IdempotencyKey is the hex sha256 of message. Warpcast collapses sends
// that repeat a key, so regenerating the same message is safe.
func IdempotencyKey(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

// loadVoters returns the cached voter FIDs. A missing list is not an error.
func loadVoters(ctx context.Context, store storage.Store) ([]int64, error) {
	fids, ok, err := storage.GetJSON[[]int64](ctx, store, KeyVoters)
	if err != nil {
		return nil, fmt.Errorf("load voters: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return fids, nil
}

// directCasts builds one envelope per recipient not in skip.
func directCasts(recipients []int64, skip map[int64]bool, message string) ([]dispatch.Envelope, error) {
	key := IdempotencyKey(message)
	out := make([]dispatch.Envelope, 0, len(recipients))
	for _, fid := range recipients {
		if fid <= 0 || skip[fid] {
			continue
		}
		env, err := dispatch.NewEnvelope(TypeDirectCast, DirectCast{
			RecipientFID:   fid,
			Message:        message,
			IdempotencyKey: key,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// enqueue sends envs in transport-sized chunks. Every chunk is attempted;
// the failures are joined.
func enqueue(ctx context.Context, p dispatch.Producer, envs []dispatch.Envelope, log logx.Logger) error {
	chunks, err := batch.Chunk(envs, batch.MaxQueueBatch)
	if err != nil {
		return err
	}
	var errs []error
	for i, c := range chunks {
		if err := p.SendBatch(ctx, c); err != nil {
			log.Error("enqueue failed", logx.Int("chunk", i), logx.Int("size", len(c)), logx.Err(err))
			errs = append(errs, fmt.Errorf("chunk %d: %w", i, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("enqueue: %w", errors.Join(errs...))
	}
	return nil
}
