package daemon

import (
	"context"
	"fmt"

	"github.com/llmc-dev/rag-core/workspace"
)

// RepoHealth combines a repo's on-disk freshness record with the daemon's
// own service-state record for it.
type RepoHealth struct {
	RepoID string
	Status workspace.IndexStatus
	State  RepoState
}

// Health is the aggregate view across every repo the daemon supervises:
// per-repo status plus rolled-up totals, for a single operator-facing
// snapshot of the whole fleet.
type Health struct {
	Repos []RepoHealth

	FilesTotal       int
	SpansTotal       int
	EmbeddingsTotal  int
	EnrichmentsTotal int
	PendingTotal     int
	PoisonedTotal    int
	RecentFailures   int // repos whose last recorded pass failed
}

// Health builds the aggregate health snapshot across all registered repos.
func (d *Daemon) Health(ctx context.Context) (Health, error) {
	var h Health
	for _, r := range d.snapshot() {
		status, err := r.layout.ReadStatus()
		if err != nil {
			return Health{}, fmt.Errorf("daemon: reading status for %s: %w", r.id, err)
		}
		state, err := d.svc.GetRepoState(ctx, r.id)
		if err != nil {
			return Health{}, fmt.Errorf("daemon: reading state for %s: %w", r.id, err)
		}

		h.Repos = append(h.Repos, RepoHealth{RepoID: r.id, Status: status, State: state})
		h.FilesTotal += status.FilesTotal
		h.SpansTotal += status.SpansTotal
		h.EmbeddingsTotal += status.EmbeddingsTotal
		h.EnrichmentsTotal += status.EnrichmentsTotal
		h.PendingTotal += status.Pending
		h.PoisonedTotal += status.Poisoned
		if state.LastStatus == "failed" {
			h.RecentFailures++
		}
	}
	return h, nil
}
