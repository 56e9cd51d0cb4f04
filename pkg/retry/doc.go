// Package retry runs units of asynchronous work under named retry policies.
//
// A Policy is a plain value: attempt budget, initial and maximum delay, backoff
// factor and an optional jitter flag. Three presets cover the loading phases of
// an engine:
//
//   - DependencyLoad ("dependency-load"): runtimes and libraries fetched over the network
//   - NetworkRequest ("network-request"): single remote calls
//   - Initialization ("initialization"): local setup steps
//
// Delays grow as InitialDelay*BackoffFactor^(n-1), capped at MaxDelay. With
// jitter enabled each delay is perturbed uniformly by up to ±25%. Every delay is
// clamped to [MinDelay, MaxDelay].
//
// Basic usage example:
//
//	orch := retry.NewOrchestrator(retry.WithEventHandler(retry.NewLoggingEventHandler(logger)))
//
//	outcome := retry.Run(orch, ctx, "load-runtime", retry.DependencyLoad,
//		func(ctx context.Context, attempt int) (*Runtime, error) {
//			return loadRuntime(ctx)
//		})
//	if !outcome.Success {
//		return fmt.Errorf("runtime unavailable after %d attempts: %w", outcome.Attempts, outcome.Err)
//	}
//
// Deterministic delays for tests:
//
//	orch := retry.NewOrchestrator(retry.WithSeed(42), retry.WithClock(clock))
//
// Run never panics and never returns a Go error; failures are reported through
// Outcome. Orchestrator statistics are safe for concurrent use.
package retry
