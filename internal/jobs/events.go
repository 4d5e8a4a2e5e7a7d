package jobs

import (
	"context"
	"fmt"
	"time"

	"nounsbot/internal/dispatch"
	"nounsbot/internal/storage"
	logx "nounsbot/pkg/logx"
)

// DefaultEventsWindow is how far ahead an event is announced.
const DefaultEventsWindow = 2 * time.Hour

// Event is a weekly community event at a fixed UTC time.
type Event struct {
	Name    string
	Weekday time.Weekday
	Hour    int
	Minute  int
	Message string
	Link    string
}

// DefaultEvents are the recurring Lil Nouns calls.
var DefaultEvents = []Event{
	{
		Name:    "tuesday-call",
		Weekday: time.Tuesday,
		Hour:    16,
		Minute:  15,
		Message: "The Tuesday call is at 16:15 UTC! A 'semi-focused' discussion on the tasks at hand in the DAO, with the goal of leaving each week with tangible objectives.",
		Link:    "https://discord.gg/pSX3yrCsHw",
	},
	{
		Name:    "happy-hour",
		Weekday: time.Thursday,
		Hour:    21,
		Minute:  0,
		Message: "Join us for another Lil Nouns Happy Hour at 21:00 UTC! We will review proposals, air grievances, and probably argue about things that do not really matter, but hey, that is what makes it fun!",
		Link:    "https://discord.gg/6mVmyAUPYk",
	},
}

// Text is the direct cast announcing e.
func (e Event) Text() string {
	if e.Link == "" {
		return e.Message
	}
	return fmt.Sprintf("%s\nYou can join here: %s", e.Message, e.Link)
}

// Next returns the first occurrence of e strictly after now, in UTC.
func (e Event) Next(now time.Time) time.Time {
	now = now.UTC()
	days := (int(e.Weekday) - int(now.Weekday()) + 7) % 7
	t := time.Date(now.Year(), now.Month(), now.Day()+days, e.Hour, e.Minute, 0, 0, time.UTC)
	if !t.After(now) {
		t = t.AddDate(0, 0, 7)
	}
	return t
}

// EventsJob announces community events starting within Window to every
// cached voter except the bot itself.
type EventsJob struct {
	Store    storage.Store
	Identity Identity
	Producer dispatch.Producer

	Events []Event       // default DefaultEvents
	Window time.Duration // default DefaultEventsWindow
	Now    func() time.Time
	Log    logx.Logger
}

func (j *EventsJob) Run(ctx context.Context) error {
	log := j.Log.Component("events")
	events := j.Events
	if len(events) == 0 {
		events = DefaultEvents
	}
	window := j.Window
	if window <= 0 {
		window = DefaultEventsWindow
	}
	now := time.Now()
	if j.Now != nil {
		now = j.Now()
	}

	var upcoming []Event
	for _, ev := range events {
		if ev.Next(now).Sub(now) <= window {
			upcoming = append(upcoming, ev)
		}
	}
	if len(upcoming) == 0 {
		return nil
	}

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
	skip := map[int64]bool{me.FID: true}

	var envs []dispatch.Envelope
	for _, ev := range upcoming {
		batch, err := directCasts(voters, skip, ev.Text())
		if err != nil {
			return err
		}
		log.Info("announcing event",
			logx.String("event", ev.Name),
			logx.Time("starts_at", ev.Next(now)),
			logx.Int("recipients", len(batch)),
		)
		envs = append(envs, batch...)
	}
	return enqueue(ctx, j.Producer, envs, log)
}
