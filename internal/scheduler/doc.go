// Package scheduler runs the periodic alert passes.
//
// # Schedule formats
//
// A schedule is one of:
//
//   - Cron expressions: 5-field (min hour dom mon dow) or 6-field with optional
//     seconds. Example: "0 8 * * *".
//   - Cron descriptors: "@hourly", "@daily", "@every 30m".
//   - Interval durations: Go duration strings like "1h" or "2h30m".
//   - Interval HH:MM: "01:00" means every hour, "00:15" every 15 minutes.
//
// Prefix with "cron:" or "every:" to force an interpretation.
//
// # Concurrency and overlap
//
// Jobs run on a worker pool, so independent passes run in parallel. A job
// that is still running when its next tick fires is skipped for that tick.
// Each run gets its own timeout; a panic in a job is recovered and recorded
// as a failed run.
//
// # Lifecycle
//
// Jobs may be registered before Start. Stop halts future ticks and asks
// running jobs to finish through context cancellation. Apply swaps the
// timezone of a running scheduler without losing registrations.
package scheduler
