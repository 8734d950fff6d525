// Package retry implements the backoff/DLQ decision: given a failed job
// and the current config, decide whether it is re-queued with a delay or
// banished to the dead-letter queue.
package retry

import (
	"queuectl/internal/config"
	"queuectl/internal/job"
)

// maxDelayMS caps a backoff delay at one day ahead so an exponentiated
// delay can never overflow into a negative or wildly distant run_after.
const maxDelayMS int64 = 24 * 60 * 60 * 1000

// Outcome is the state transition a failed job should undergo.
type Outcome struct {
	NewState  job.State
	Attempts  int
	RunAfter  int64
}

// Evaluate applies the retry/backoff policy to a job that just received a
// failed reply from a worker. now is epoch milliseconds.
func Evaluate(j job.Job, cfg config.Snapshot, now int64) Outcome {
	attempts := j.Attempts + 1

	cap := cfg.MaxRetries
	if j.MaxRetries != nil {
		cap = *j.MaxRetries
	}

	if attempts > cap {
		return Outcome{NewState: job.StateDead, Attempts: attempts, RunAfter: j.RunAfter}
	}

	delay := backoffDelay(cfg.BackoffBase, cfg.BackoffFactorMS, attempts)
	runAfter := saturatingAdd(now, delay)
	return Outcome{NewState: job.StatePending, Attempts: attempts, RunAfter: runAfter}
}

// backoffDelay computes base^attempts * factorMS, saturating at
// maxDelayMS rather than overflowing.
func backoffDelay(base, factorMS int64, attempts int) int64 {
	if factorMS == 0 {
		return 0
	}
	delay := int64(1)
	for i := 0; i < attempts; i++ {
		delay *= base
		if delay > maxDelayMS {
			return maxDelayMS
		}
	}
	if delay > maxDelayMS/factorMS+1 {
		return maxDelayMS
	}
	delay *= factorMS
	if delay > maxDelayMS || delay < 0 {
		return maxDelayMS
	}
	return delay
}

func saturatingAdd(a, b int64) int64 {
	sum := a + b
	if sum < a || sum < b {
		return a + maxDelayMS
	}
	return sum
}
