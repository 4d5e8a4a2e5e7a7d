// Package scheduler triggers the bot's periodic jobs.
//
// Schedules are cron expressions (robfig/cron, optional seconds field) or fixed
// intervals. Each run gets a timeout, panic recovery, and a skip-if-running
// guard so a slow job never stacks up behind itself.
package scheduler
