package jobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nounsbot/internal/dispatch"
	"nounsbot/internal/storage"
	logx "nounsbot/pkg/logx"
)

// ReminderWindow is how close a proposal's end must be before cached
// voters who have not voted are reminded. ReminderMessage names it.
const ReminderWindow = 2 * time.Hour

const statusActive = "ACTIVE"

// ReminderMessage is the direct cast sent for proposal id. A non-empty
// urlTemplate has "%s" replaced with id and is appended on its own line.
func ReminderMessage(id, urlTemplate string) string {
	msg := fmt.Sprintf("Hey mate, quick reminder fa ya, voting on proposal #%s wraps up in under two hours ⏳ Would appreciate if you could take a sec and cast your vote! 🙌", id)
	if urlTemplate != "" {
		msg += "\n" + fmt.Sprintf(urlTemplate, id)
	}
	return msg
}

// ReminderJob reminds cached voters about active proposals that end within
// ReminderWindow. Voters that already voted on a proposal and the bot's own
// account are skipped.
type ReminderJob struct {
	Store    storage.Store
	Subgraph Subgraph
	Chain    Chain
	Identity Identity
	Resolver Resolver
	Producer dispatch.Producer

	ProposalURL string
	Concurrency int
	Now         func() time.Time
	Log         logx.Logger
}

func (j *ReminderJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

func (j *ReminderJob) Run(ctx context.Context) error {
	log := j.Log.Component("reminder")

	voters, err := loadVoters(ctx, j.Store)
	if err != nil {
		return err
	}
	if len(voters) == 0 {
		log.Debug("no cached voters")
		return nil
	}

	me, err := j.Identity.Me(ctx)
	if err != nil {
		return fmt.Errorf("me: %w", err)
	}
	head, err := j.Chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	proposals, err := j.Subgraph.ActiveProposals(ctx)
	if err != nil {
		return fmt.Errorf("proposals: %w", err)
	}

	now := j.now()
	var envs []dispatch.Envelope
	for _, p := range proposals {
		if !strings.EqualFold(p.Status, statusActive) {
			continue
		}
		end, err := strconv.ParseUint(strings.TrimSpace(p.EndBlock), 10, 64)
		if err != nil {
			log.Warn("bad end block", logx.String("proposal", p.ID), logx.String("end_block", p.EndBlock))
			continue
		}
		if end <= head {
			continue
		}
		endsAt, err := j.Chain.EstimateBlockTime(ctx, end)
		if err != nil {
			log.Warn("end time unavailable", logx.String("proposal", p.ID), logx.Err(err))
			continue
		}
		if left := endsAt.Sub(now); left > ReminderWindow {
			log.Debug("proposal not ending soon", logx.String("proposal", p.ID), logx.Duration("left", left))
			continue
		}

		voted, err := j.Resolver.LookupMany(ctx, p.VoterAddresses(), j.Concurrency)
		if err != nil {
			return err
		}
		skip := make(map[int64]bool, len(voted)+1)
		skip[me.FID] = true
		for _, fid := range voted {
			skip[fid] = true
		}

		batch, err := directCasts(voters, skip, ReminderMessage(p.ID, j.ProposalURL))
		if err != nil {
			return err
		}
		log.Info("reminding voters",
			logx.String("proposal", p.ID),
			logx.Time("ends_at", endsAt),
			logx.Int("recipients", len(batch)),
			logx.Int("voted", len(voted)),
		)
		envs = append(envs, batch...)
	}

	if len(envs) == 0 {
		return nil
	}
	return enqueue(ctx, j.Producer, envs, log)
}
