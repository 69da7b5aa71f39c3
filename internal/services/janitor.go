package services

import (
	"context"
	"log/slog"
	"time"
)

// PruneFunc deletes expired rows and returns how many were removed.
type PruneFunc func(ctx context.Context) (int64, error)

type pruneTask struct {
	name string
	fn   PruneFunc
}

// Janitor periodically prunes expired revocation entries, rotation records
// and other time-bounded rows.
type Janitor struct {
	interval time.Duration
	tasks    []pruneTask
}

func NewJanitor(interval time.Duration) *Janitor {
	return &Janitor{interval: interval}
}

func (j *Janitor) Add(name string, fn PruneFunc) {
	j.tasks = append(j.tasks, pruneTask{name: name, fn: fn})
}

// RunOnce runs every task and returns the per-task counts. A failing task
// does not stop the others.
func (j *Janitor) RunOnce(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(j.tasks))
	var firstErr error
	for _, t := range j.tasks {
		n, err := t.fn(ctx)
		if err != nil {
			slog.Error("prune failed", "task", t.name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		counts[t.name] = n
		if n > 0 {
			slog.Info("prune completed", "task", t.name, "deleted", n)
		}
	}
	return counts, firstErr
}

// Start runs RunOnce on every tick until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = j.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}
