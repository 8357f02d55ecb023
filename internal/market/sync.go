package market

import (
	"context"
	"time"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/model"
)

// list fetches the configured venues' instruments.
func (r *Registry) list(ctx context.Context) ([]api.Listing, error) {
	venues := r.cfg.Venues
	if len(venues) == 0 {
		venues = []string{""}
	}

	var all []api.Listing
	for _, v := range venues {
		listings, err := r.lister.GetAllInstruments(ctx, v)
		if err != nil {
			return nil, err
		}
		all = append(all, listings...)
	}
	return all, nil
}

// reconciliationLoop periodically re-lists instruments.
func (r *Registry) reconciliationLoop() {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(r.ctx)
		}
	}
}

// reconcile fetches the listing and applies the differences. A failed fetch
// keeps the previous listing.
func (r *Registry) reconcile(ctx context.Context) {
	start := time.Now()

	listings, err := r.list(ctx)
	if err != nil {
		r.logger.Error("reconciliation failed", "error", err)
		return
	}

	changes := r.apply(listings, true)
	if changes > 0 {
		r.logger.Info("reconciliation found changes",
			"changes", changes,
			"duration", time.Since(start),
		)
	} else {
		r.logger.Debug("reconciliation complete",
			"instruments", len(listings),
			"duration", time.Since(start),
		)
	}
}

// apply replaces the listing and, when notify is set, publishes each
// difference. It returns the number of differences.
func (r *Registry) apply(listings []api.Listing, notify bool) int {
	var changes []Change

	r.mu.Lock()
	seen := make(map[model.Topic]struct{}, len(listings))
	for _, l := range listings {
		seen[l.Topic] = struct{}{}
		old, ok := r.instruments[l.Topic]
		switch {
		case !ok:
			changes = append(changes, Change{Topic: l.Topic, Kind: ChangeListed, NewStatus: l.Status})
		case old != l.Status:
			changes = append(changes, Change{Topic: l.Topic, Kind: ChangeStatus, OldStatus: old, NewStatus: l.Status})
		}
		r.instruments[l.Topic] = l.Status
	}
	for t, old := range r.instruments {
		if _, ok := seen[t]; !ok {
			delete(r.instruments, t)
			changes = append(changes, Change{Topic: t, Kind: ChangeDelisted, OldStatus: old})
		}
	}
	r.lastSyncAt = time.Now()
	r.mu.Unlock()

	if notify {
		for _, c := range changes {
			r.notify(c)
		}
	}
	return len(changes)
}

func (r *Registry) notify(c Change) {
	select {
	case r.changes <- c:
	default:
		r.logger.Debug("change channel full, dropping", "topic", c.Topic, "kind", c.Kind)
	}
}
