package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"nounsbot/internal/dispatch"
	"nounsbot/internal/lilnouns"
	"nounsbot/internal/storage"
	"nounsbot/internal/warpcast"
)

func TestVotersJobResolvesAndCaches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	sg := &fakeSubgraph{
		accounts: []lilnouns.Account{{ID: "0xAAA"}, {ID: "0xbbb"}, {ID: "0xnone"}},
		// 0xaaa is both holder and delegate; 0xccc shares a fid with 0xbbb.
		delegates: []lilnouns.Delegate{{ID: "0xaaa"}, {ID: "0xccc"}},
	}
	res := fakeResolver{"0xaaa": 30, "0xbbb": 10, "0xccc": 10}
	job := &VotersJob{Store: store, Subgraph: sg, Resolver: res}

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fids, ok, err := storage.GetJSON[[]int64](ctx, store, KeyVoters)
	if err != nil || !ok {
		t.Fatalf("voters = %v, %v, %v", fids, ok, err)
	}
	if !slices.Equal(fids, []int64{10, 30}) {
		t.Fatalf("voters = %v, want [10 30]", fids)
	}
	for _, key := range []string{KeyAccounts, KeyDelegates} {
		if _, ok, _ := store.Get(ctx, key); !ok {
			t.Fatalf("%s not cached", key)
		}
	}

	// A second run within the TTL does not touch the subgraph.
	if err := job.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n := sg.count("accounts"); n != 1 {
		t.Fatalf("accounts fetched %d times, want 1", n)
	}

	// Dropping the voter list rebuilds it from the cached address lists.
	if err := store.Delete(ctx, KeyVoters); err != nil {
		t.Fatal(err)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if n := sg.count("accounts"); n != 1 {
		t.Fatalf("accounts fetched %d times, want 1", n)
	}
}

func TestVotersJobKeepsNothingWhenNoneResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	job := &VotersJob{
		Store:    store,
		Subgraph: &fakeSubgraph{accounts: []lilnouns.Account{{ID: "0xaaa"}}},
		Resolver: fakeResolver{},
	}
	if err := job.Run(ctx); !errors.Is(err, ErrNoVoters) {
		t.Fatalf("err = %v, want ErrNoVoters", err)
	}
	if _, ok, _ := store.Get(ctx, KeyVoters); ok {
		t.Fatal("empty voter list was stored")
	}
}

func putVoters(t *testing.T, store storage.Store, fids ...int64) {
	t.Helper()
	if err := storage.PutJSON(context.Background(), store, KeyVoters, fids, 0); err != nil {
		t.Fatalf("put voters: %v", err)
	}
}

func TestReminderJob(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 7, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory()
	putVoters(t, store, 1, 2, 3, 4)

	vote := func(addr string) lilnouns.Vote {
		var v lilnouns.Vote
		v.Voter.ID = addr
		return v
	}
	sg := &fakeSubgraph{proposals: []lilnouns.Proposal{
		// ends in 100 blocks (20m), voter 0xaaa (fid 2) already voted
		{ID: "7", Status: "ACTIVE", EndBlock: "1100", Votes: []lilnouns.Vote{vote("0xAAA")}},
		// ends in 1000 blocks (3h20m)
		{ID: "8", Status: "ACTIVE", EndBlock: "2000"},
		// already over
		{ID: "9", Status: "ACTIVE", EndBlock: "900"},
		{ID: "10", Status: "PENDING", EndBlock: "1001"},
		{ID: "11", Status: "ACTIVE", EndBlock: "soon"},
	}}
	prod := &recordingProducer{}
	job := &ReminderJob{
		Store:       store,
		Subgraph:    sg,
		Chain:       fakeChain{head: 1000, base: now},
		Identity:    fakeIdentity(4),
		Resolver:    fakeResolver{"0xaaa": 2},
		Producer:    prod,
		ProposalURL: "https://lilnouns.wtf/vote/%s",
		Now:         func() time.Time { return now },
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	casts := prod.casts(t)
	if got := recipients(casts); !slices.Equal(got, []int64{1, 3}) {
		t.Fatalf("recipients = %v, want [1 3]", got)
	}
	want := ReminderMessage("7", job.ProposalURL)
	if !strings.HasSuffix(want, "\nhttps://lilnouns.wtf/vote/7") {
		t.Fatalf("message = %q", want)
	}
	for _, c := range casts {
		if c.Message != want || c.IdempotencyKey != IdempotencyKey(want) {
			t.Fatalf("cast = %+v", c)
		}
	}
}

func TestReminderJobWithoutVotersSkipsLookups(t *testing.T) {
	t.Parallel()
	sg := &fakeSubgraph{}
	job := &ReminderJob{Store: storage.NewMemory(), Subgraph: sg, Producer: &recordingProducer{}}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := sg.count("proposals"); n != 0 {
		t.Fatalf("proposals fetched %d times", n)
	}
}

func TestReminderMessage(t *testing.T) {
	t.Parallel()
	got := ReminderMessage("42", "")
	want := "Hey mate, quick reminder fa ya, voting on proposal #42 wraps up in under two hours ⏳ Would appreciate if you could take a sec and cast your vote! 🙌"
	if got != want {
		t.Fatalf("ReminderMessage = %q", got)
	}
	if len(IdempotencyKey(got)) != 64 || IdempotencyKey(got) != IdempotencyKey(want) {
		t.Fatal("idempotency key is not a stable sha256 hex")
	}
}

func TestEventNext(t *testing.T) {
	t.Parallel()
	call := DefaultEvents[0] // Tuesday 16:15
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		// Tuesday morning: later today.
		{time.Date(2024, 5, 7, 15, 0, 0, 0, time.UTC), time.Date(2024, 5, 7, 16, 15, 0, 0, time.UTC)},
		// Exactly at the start: next week.
		{time.Date(2024, 5, 7, 16, 15, 0, 0, time.UTC), time.Date(2024, 5, 14, 16, 15, 0, 0, time.UTC)},
		// Sunday: the coming Tuesday.
		{time.Date(2024, 5, 5, 23, 0, 0, 0, time.UTC), time.Date(2024, 5, 7, 16, 15, 0, 0, time.UTC)},
		// Non-UTC input is compared in UTC.
		{time.Date(2024, 5, 7, 12, 0, 0, 0, time.FixedZone("EST", -5*3600)), time.Date(2024, 5, 14, 16, 15, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := call.Next(tt.now); !got.Equal(tt.want) {
			t.Fatalf("Next(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestEventsJob(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		now     time.Time
		wantMsg string
	}{
		{"tuesday call soon", time.Date(2024, 5, 7, 15, 0, 0, 0, time.UTC), DefaultEvents[0].Text()},
		{"happy hour soon", time.Date(2024, 5, 9, 19, 0, 0, 0, time.UTC), DefaultEvents[1].Text()},
		{"nothing soon", time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := storage.NewMemory()
			putVoters(t, store, 5, 6, 7)
			prod := &recordingProducer{}
			job := &EventsJob{
				Store:    store,
				Identity: fakeIdentity(6),
				Producer: prod,
				Now:      func() time.Time { return tt.now },
			}
			if err := job.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			casts := prod.casts(t)
			if tt.wantMsg == "" {
				if len(casts) != 0 {
					t.Fatalf("casts = %+v, want none", casts)
				}
				return
			}
			if got := recipients(casts); !slices.Equal(got, []int64{5, 7}) {
				t.Fatalf("recipients = %v, want [5 7]", got)
			}
			if casts[0].Message != tt.wantMsg {
				t.Fatalf("message = %q, want %q", casts[0].Message, tt.wantMsg)
			}
		})
	}
}

func TestEventText(t *testing.T) {
	t.Parallel()
	ev := Event{Message: "Call at noon", Link: "https://example.com/call"}
	if got := ev.Text(); got != "Call at noon\nYou can join here: https://example.com/call" {
		t.Fatalf("Text = %q", got)
	}
}

func TestEnqueueChunksLargeFanout(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	fids := make([]int64, 250)
	for i := range fids {
		fids[i] = int64(i + 1)
	}
	putVoters(t, store, fids...)
	prod := &recordingProducer{}
	job := &EventsJob{
		Store:    store,
		Identity: fakeIdentity(0),
		Producer: prod,
		Now:      func() time.Time { return time.Date(2024, 5, 7, 15, 0, 0, 0, time.UTC) },
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var sizes []int
	for _, b := range prod.batches {
		sizes = append(sizes, len(b))
	}
	if !slices.Equal(sizes, []int{100, 100, 50}) {
		t.Fatalf("batch sizes = %v", sizes)
	}

	prod.err = errors.New("queue down")
	if err := job.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "queue down") {
		t.Fatalf("err = %v, want enqueue failure", err)
	}
}

type sendFunc func(ctx context.Context, dc warpcast.DirectCast) error

func (f sendFunc) SendDirectCast(ctx context.Context, dc warpcast.DirectCast) error { return f(ctx, dc) }

func TestDirectCastHandler(t *testing.T) {
	t.Parallel()
	valid, _ := json.Marshal(DirectCast{RecipientFID: 9, Message: "hi"})
	tests := []struct {
		name          string
		data          string
		sendErr       error
		wantErr       bool
		wantPermanent bool
	}{
		{"sent", string(valid), nil, false, false},
		{"bad json", `{"recipientFid":`, nil, true, true},
		{"no recipient", `{"message":"hi"}`, nil, true, true},
		{"refused", string(valid), warpcast.ErrSendRefused, true, false},
		{"rate limited", string(valid), &warpcast.APIError{Status: 429}, true, false},
		{"server error", string(valid), &warpcast.APIError{Status: 502}, true, false},
		{"bad request", string(valid), fmt.Errorf("send: %w", &warpcast.APIError{Status: 400}), true, true},
		{"throttled under 400", string(valid), &warpcast.APIError{Status: 400, Msgs: []string{"Farcaster client rate limit exceeded"}}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got DirectCast
			h := &DirectCastHandler{Sender: sendFunc(func(_ context.Context, dc warpcast.DirectCast) error {
				got = dc
				return tt.sendErr
			})}
			err := h.Handle(context.Background(), json.RawMessage(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if dispatch.IsPermanent(err) != tt.wantPermanent {
				t.Fatalf("IsPermanent(%v) = %v, want %v", err, !tt.wantPermanent, tt.wantPermanent)
			}
			if tt.name == "sent" && got.IdempotencyKey != IdempotencyKey("hi") {
				t.Fatalf("idempotency key = %q", got.IdempotencyKey)
			}
		})
	}
}

func lilLegendsPacks() []warpcast.StarterPack {
	return []warpcast.StarterPack{
		{ID: "Nouns-Radar-1", Name: "radar"},
		{ID: "Lil-Legends-9", Name: "Lil Legends", Description: "active voters", Labels: []string{"dao"}},
		{ID: "Lil-Legends-10", Name: "second"},
	}
}

func TestStarterPackJobRetriesUpdate(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	putVoters(t, store, 3, 5, 8)
	packs := &fakePacks{packs: lilLegendsPacks(), failures: 2}
	job := &StarterPackJob{Store: store, Identity: fakeIdentity(77), Packs: packs, RetryDelay: time.Millisecond}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := packs.calls()
	if len(calls) != 3 {
		t.Fatalf("updates = %d, want 3", len(calls))
	}
	u := calls[2]
	if u.ID != "Lil-Legends-9" || u.Name != "Lil Legends" || u.Description != "active voters" || !slices.Equal(u.Labels, []string{"dao"}) {
		t.Fatalf("update = %+v", u)
	}
	if !slices.Equal(u.FIDs, []int64{3, 5, 8}) {
		t.Fatalf("members = %v, want [3 5 8]", u.FIDs)
	}
	if packs.owner != 77 {
		t.Fatalf("packs listed for fid %d, want 77", packs.owner)
	}
}

func TestStarterPackJobGivesUp(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	putVoters(t, store, 1)
	packs := &fakePacks{packs: lilLegendsPacks(), failures: 10}
	job := &StarterPackJob{Store: store, Identity: fakeIdentity(1), Packs: packs, Attempts: 2, RetryDelay: time.Millisecond}

	err := job.Run(context.Background())
	if !errors.Is(err, warpcast.ErrUpdateRefused) {
		t.Fatalf("err = %v, want ErrUpdateRefused", err)
	}
	if n := len(packs.calls()); n != 2 {
		t.Fatalf("updates = %d, want 2", n)
	}
}

func TestStarterPackJobSkips(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		voters []int64
		packs  []warpcast.StarterPack
	}{
		{name: "no voters", packs: lilLegendsPacks()},
		{name: "no matching pack", voters: []int64{1, 2}, packs: []warpcast.StarterPack{{ID: "Nouns-Radar-1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := storage.NewMemory()
			if tt.voters != nil {
				putVoters(t, store, tt.voters...)
			}
			packs := &fakePacks{packs: tt.packs}
			job := &StarterPackJob{Store: store, Identity: fakeIdentity(1), Packs: packs}
			if err := job.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if n := len(packs.calls()); n != 0 {
				t.Fatalf("updates = %d, want 0", n)
			}
		})
	}
}
