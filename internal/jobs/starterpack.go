package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nounsbot/internal/storage"
	"nounsbot/internal/warpcast"
	logx "nounsbot/pkg/logx"
)

const (
	DefaultStarterPackPrefix = "Lil-Legends"
	DefaultUpdateAttempts    = 3
	DefaultUpdateRetryDelay  = 5 * time.Second
)

// StarterPacks manages the bot's starter packs. *warpcast.Client implements it.
type StarterPacks interface {
	StarterPacks(ctx context.Context, fid int64) ([]warpcast.StarterPack, error)
	UpdateStarterPack(ctx context.Context, u warpcast.StarterPackUpdate) error
}

// StarterPackJob replaces the members of the bot's starter pack with the
// cached voter list.
//
// The pack is the first one owned by the bot whose id starts with Prefix.
// Its name, description and labels are kept. An empty voter list or a
// missing pack is logged and skipped.
type StarterPackJob struct {
	Store    storage.Store
	Identity Identity
	Packs    StarterPacks

	Prefix     string
	Attempts   int
	RetryDelay time.Duration
	Log        logx.Logger
}

func (j *StarterPackJob) Run(ctx context.Context) error {
	log := j.Log.Component("starter_pack")
	fids, err := loadVoters(ctx, j.Store)
	if err != nil {
		return err
	}
	if len(fids) == 0 {
		log.Warn("no voters cached; skipping starter pack update")
		return nil
	}

	me, err := j.Identity.Me(ctx)
	if err != nil {
		return fmt.Errorf("whoami: %w", err)
	}
	packs, err := j.Packs.StarterPacks(ctx, me.FID)
	if err != nil {
		return fmt.Errorf("list starter packs: %w", err)
	}
	pack, ok := firstWithPrefix(packs, j.prefix())
	if !ok {
		log.Warn("no matching starter pack", logx.Int64("fid", me.FID), logx.String("prefix", j.prefix()))
		return nil
	}

	u := warpcast.StarterPackUpdate{
		ID:          pack.ID,
		Name:        pack.Name,
		Description: pack.Description,
		FIDs:        fids,
		Labels:      pack.Labels,
	}
	attempts, delay := j.attempts(), j.retryDelay()
	for attempt := 1; ; attempt++ {
		err = j.Packs.UpdateStarterPack(ctx, u)
		if err == nil {
			log.Info("starter pack updated", logx.String("id", pack.ID), logx.Int("members", len(fids)), logx.Int("attempt", attempt))
			return nil
		}
		if attempt >= attempts {
			break
		}
		log.Warn("starter pack update failed; retrying",
			logx.String("id", pack.ID),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("update starter pack %s after %d attempt(s): %w", pack.ID, attempts, err)
}

func (j *StarterPackJob) prefix() string {
	if j.Prefix != "" {
		return j.Prefix
	}
	return DefaultStarterPackPrefix
}

func (j *StarterPackJob) attempts() int {
	if j.Attempts > 0 {
		return j.Attempts
	}
	return DefaultUpdateAttempts
}

func (j *StarterPackJob) retryDelay() time.Duration {
	if j.RetryDelay > 0 {
		return j.RetryDelay
	}
	return DefaultUpdateRetryDelay
}

func firstWithPrefix(packs []warpcast.StarterPack, prefix string) (warpcast.StarterPack, bool) {
	for _, p := range packs {
		if strings.HasPrefix(p.ID, prefix) {
			return p, true
		}
	}
	return warpcast.StarterPack{}, false
}
