package manifest

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yourusername/account-backup-manager/internal/transport"
)

// TransportFactory opens a transport for a destination id
type TransportFactory func(destinationID string) (transport.Transport, error)

// Pruner deletes archives beyond each schedule's retention count, using
// the manifest ledger as its source of truth.
type Pruner struct {
	store     *Store
	transport TransportFactory
	schedule  string
}

// NewPruner creates a new retention pruner
func NewPruner(store *Store, factory TransportFactory, schedule string) *Pruner {
	return &Pruner{
		store:     store,
		transport: factory,
		schedule:  schedule,
	}
}

// Start runs the pruner on its configured cron cadence until ctx is done
func (p *Pruner) Start(ctx context.Context) {
	go func() {
		for {
			next, err := computeNextRun(p.schedule, time.Now())
			if err != nil {
				log.Printf("[Pruner] Invalid prune schedule %q: %v", p.schedule, err)
				return
			}

			select {
			case <-ctx.Done():
				log.Printf("[Pruner] Stopping retention pruner")
				return
			case <-time.After(time.Until(next)):
				if err := p.PruneAll(); err != nil {
					log.Printf("[Pruner] Prune pass failed: %v", err)
				}
			}
		}
	}()
}

// PruneAll enforces retention for every schedule/account pair
func (p *Pruner) PruneAll() error {
	groups, err := p.store.ListRetentionGroups()
	if err != nil {
		return err
	}

	pruned := 0
	for _, group := range groups {
		n, err := p.pruneGroup(group)
		if err != nil {
			log.Printf("[Pruner] Error pruning %s/%s: %v", group.ScheduleID, group.Account, err)
			continue
		}
		pruned += n
	}

	if pruned > 0 {
		log.Printf("[Pruner] Retention enforcement complete: deleted %d archives", pruned)
	}
	return nil
}

func (p *Pruner) pruneGroup(group ScheduledGroup) (int, error) {
	entries, err := p.store.ListForAccount(group.ScheduleID, group.Account)
	if err != nil {
		return 0, err
	}

	if len(entries) <= group.RetentionCount {
		return 0, nil
	}

	deleted := 0
	for _, entry := range entries[group.RetentionCount:] {
		tr, err := p.transport(entry.DestinationID)
		if err != nil {
			log.Printf("[Pruner] Cannot open transport for %s: %v", entry.DestinationID, err)
			continue
		}

		log.Printf("[Pruner] Deleting old archive %s (created %s)",
			entry.Filename, entry.CreatedAt.Format("2006-01-02 15:04:05"))

		if err := tr.Delete(entry.Account + "/" + entry.Filename); err != nil {
			log.Printf("[Pruner] Error deleting %s: %v", entry.Filename, err)
			closeTransport(tr)
			continue
		}

		if entry.DBFilename != "" {
			if err := tr.Delete(entry.Account + "/" + entry.DBFilename); err != nil {
				log.Printf("[Pruner] Error deleting %s: %v", entry.DBFilename, err)
			}
		}
		closeTransport(tr)

		if err := p.store.Remove(entry.ID); err != nil {
			log.Printf("[Pruner] Error removing manifest entry %d: %v", entry.ID, err)
			continue
		}

		deleted++
	}

	return deleted, nil
}

func closeTransport(tr transport.Transport) {
	if closer, ok := tr.(interface{ Close() error }); ok {
		closer.Close()
	}
}

func computeNextRun(schedule string, from time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	parsed, err := parser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}

	return parsed.Next(from), nil
}
