// Package async runs background work with panic recovery and per-run
// timeouts.
//
// # Overview
//
// A Job wraps a function that takes a context. Every run gets its own
// deadline derived from the job's base context, and a panic is logged with
// its stack instead of killing the process.
//
// Job implements cron.Job, so it can be handed straight to a scheduler:
//
//	job := &async.Job{
//		Name:    "token sweep",
//		Timeout: time.Minute,
//		Logger:  logger,
//		Fn: func(ctx context.Context) error {
//			_, err := tokens.SweepExpired(ctx)
//			return err
//		},
//	}
//	c.AddJob("*/15 * * * *", job.WithContext(ctx))
//
// RunContext runs the job once in the caller's goroutine and returns its
// error, which is what one-shot tools want.
//
// # Related Packages
//
//   - pkg/observability: logging of failures and panics
package async
