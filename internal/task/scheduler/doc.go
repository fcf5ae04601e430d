// Package scheduler runs the service's periodic maintenance jobs (uptime
// sampling, icon cleanup) on robfig/cron.
//
// It is unrelated to user schedules, which the checker package evaluates
// against the schedule store.
package scheduler
