package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"nounsbot/internal/lilnouns"
	"nounsbot/internal/resolver"
	"nounsbot/internal/storage"
	logx "nounsbot/pkg/logx"
)

const DefaultListTTL = 24 * time.Hour

// ErrNoVoters is returned when addresses were found but none resolved. The
// previous list is kept rather than replaced by an empty one.
var ErrNoVoters = errors.New("jobs: no voter resolved to a fid")

// VotersJob refreshes the cached list of voter FIDs.
//
// DAO accounts and delegates come from the subgraph and are cached under
// KeyAccounts and KeyDelegates. Their addresses are resolved through the
// shared resolver and the sorted FIDs are stored under KeyVoters. While the
// voter list is still cached the job does nothing.
type VotersJob struct {
	Store    storage.Store
	Subgraph Subgraph
	Resolver Resolver

	// TTL applies to every list the job writes (default 24h).
	TTL         time.Duration
	Concurrency int
	Log         logx.Logger
}

func (j *VotersJob) ttl() time.Duration {
	if j.TTL > 0 {
		return j.TTL
	}
	return DefaultListTTL
}

func (j *VotersJob) Run(ctx context.Context) error {
	log := j.Log.Component("voters")
	if _, ok, err := j.Store.Get(ctx, KeyVoters); err != nil {
		log.Warn("voter cache read failed; rebuilding", logx.Err(err))
	} else if ok {
		log.Debug("voter list still cached")
		return nil
	}

	accounts, err := cached(ctx, j.Store, KeyAccounts, j.ttl(), log, j.Subgraph.Accounts)
	if err != nil {
		return fmt.Errorf("accounts: %w", err)
	}
	delegates, err := cached(ctx, j.Store, KeyDelegates, j.ttl(), log, j.Subgraph.Delegates)
	if err != nil {
		return fmt.Errorf("delegates: %w", err)
	}

	addrs := voterAddresses(accounts, delegates)
	if len(addrs) == 0 {
		log.Info("no dao addresses to resolve")
		return storage.PutJSON(ctx, j.Store, KeyVoters, []int64{}, j.ttl())
	}

	found, err := j.Resolver.LookupMany(ctx, addrs, j.Concurrency)
	if err != nil {
		return err
	}
	fids := uniqueFIDs(found)
	if len(fids) == 0 {
		return ErrNoVoters
	}
	if err := storage.PutJSON(ctx, j.Store, KeyVoters, fids, j.ttl()); err != nil {
		return fmt.Errorf("store voters: %w", err)
	}
	log.Info("voter list refreshed",
		logx.Int("addresses", len(addrs)),
		logx.Int("fids", len(fids)),
	)
	return nil
}

// cached returns the list under key, fetching and storing it on a miss.
// Store failures only cost a refetch.
func cached[T any](ctx context.Context, store storage.Store, key string, ttl time.Duration, log logx.Logger, fetch func(context.Context) ([]T, error)) ([]T, error) {
	v, ok, err := storage.GetJSON[[]T](ctx, store, key)
	if err != nil {
		log.Warn("cache read failed", logx.String("key", key), logx.Err(err))
	} else if ok {
		return v, nil
	}
	v, err = fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := storage.PutJSON(ctx, store, key, v, ttl); err != nil {
		log.Warn("cache write failed", logx.String("key", key), logx.Err(err))
	}
	return v, nil
}

// voterAddresses is the normalized union of account and delegate ids in
// first-seen order.
func voterAddresses(accounts []lilnouns.Account, delegates []lilnouns.Delegate) []string {
	seen := make(map[string]bool, len(accounts)+len(delegates))
	out := make([]string, 0, len(accounts)+len(delegates))
	add := func(id string) {
		key := resolver.Normalize(id)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, key)
	}
	for _, a := range accounts {
		add(a.ID)
	}
	for _, d := range delegates {
		add(d.ID)
	}
	return out
}

func uniqueFIDs(found map[string]int64) []int64 {
	out := make([]int64, 0, len(found))
	for _, fid := range found {
		out = append(out, fid)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
