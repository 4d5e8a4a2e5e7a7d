package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"nounsbot/internal/dispatch"
	"nounsbot/internal/lilnouns"
	"nounsbot/internal/resolver"
	"nounsbot/internal/warpcast"
)

type fakeSubgraph struct {
	accounts  []lilnouns.Account
	delegates []lilnouns.Delegate
	proposals []lilnouns.Proposal

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeSubgraph) note(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
}

func (f *fakeSubgraph) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSubgraph) Accounts(context.Context) ([]lilnouns.Account, error) {
	f.note("accounts")
	return f.accounts, nil
}

func (f *fakeSubgraph) Delegates(context.Context) ([]lilnouns.Delegate, error) {
	f.note("delegates")
	return f.delegates, nil
}

func (f *fakeSubgraph) ActiveProposals(context.Context) ([]lilnouns.Proposal, error) {
	f.note("proposals")
	return f.proposals, nil
}

// fakeChain ends block n at base + (n-head)*12s.
type fakeChain struct {
	head uint64
	base time.Time
}

func (c fakeChain) BlockNumber(context.Context) (uint64, error) { return c.head, nil }

func (c fakeChain) EstimateBlockTime(_ context.Context, n uint64) (time.Time, error) {
	return c.base.Add(time.Duration(n-c.head) * 12 * time.Second), nil
}

type fakeIdentity int64

func (f fakeIdentity) Me(context.Context) (warpcast.User, error) {
	return warpcast.User{FID: int64(f), Username: "lilnouns"}, nil
}

// fakeResolver answers from a fixed address book.
type fakeResolver map[string]int64

func (f fakeResolver) LookupMany(_ context.Context, addrs []string, _ int) (map[string]int64, error) {
	out := map[string]int64{}
	for _, a := range addrs {
		if fid, ok := f[resolver.Normalize(a)]; ok {
			out[resolver.Normalize(a)] = fid
		}
	}
	return out, nil
}

type recordingProducer struct {
	mu      sync.Mutex
	batches [][]dispatch.Envelope
	err     error
}

func (p *recordingProducer) SendBatch(_ context.Context, envs []dispatch.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, append([]dispatch.Envelope(nil), envs...))
	return nil
}

// casts decodes every enqueued envelope, sorted by recipient.
func (p *recordingProducer) casts(t *testing.T) []DirectCast {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []DirectCast
	for _, b := range p.batches {
		for _, env := range b {
			if env.Type != TypeDirectCast {
				t.Fatalf("envelope type = %q", env.Type)
			}
			var dc DirectCast
			if err := json.Unmarshal(env.Data, &dc); err != nil {
				t.Fatalf("decode: %v", err)
			}
			out = append(out, dc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecipientFID != out[j].RecipientFID {
			return out[i].RecipientFID < out[j].RecipientFID
		}
		return out[i].Message < out[j].Message
	})
	return out
}

func recipients(casts []DirectCast) []int64 {
	out := make([]int64, len(casts))
	for i, c := range casts {
		out[i] = c.RecipientFID
	}
	return out
}

// fakePacks serves a fixed pack list and fails the first failures updates.
type fakePacks struct {
	packs    []warpcast.StarterPack
	failures int

	mu      sync.Mutex
	owner   int64
	updates []warpcast.StarterPackUpdate
}

func (f *fakePacks) StarterPacks(_ context.Context, fid int64) ([]warpcast.StarterPack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner = fid
	return f.packs, nil
}

func (f *fakePacks) UpdateStarterPack(_ context.Context, u warpcast.StarterPackUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	if len(f.updates) <= f.failures {
		return warpcast.ErrUpdateRefused
	}
	return nil
}

func (f *fakePacks) calls() []warpcast.StarterPackUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]warpcast.StarterPackUpdate(nil), f.updates...)
}
