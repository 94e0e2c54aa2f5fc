package directory

import (
	"context"
	"sync"
	"time"

	"chatmon/pkg/logger"
	"chatmon/pkg/models"
)

// IdentitySource lists the assignable identities. Implemented by the ERP
// client in production and by fixtures in tests.
type IdentitySource interface {
	ListEnabled(ctx context.Context) ([]models.Identity, error)
}

// Directory holds an in-memory snapshot of identities, replaced wholesale
// on each refresh. A failed refresh keeps the previous snapshot.
type Directory struct {
	src IdentitySource

	mu        sync.RWMutex
	snapshot  []models.Identity
	refreshed time.Time
}

func New(src IdentitySource) *Directory {
	return &Directory{src: src}
}

// Refresh replaces the snapshot from the source. Errors leave the current
// snapshot in place; callers log and move on.
func (d *Directory) Refresh(ctx context.Context) error {
	ids, err := d.src.ListEnabled(ctx)
	if err != nil {
		logger.Error("directory_refresh_failed", "error", err)
		return err
	}
	d.mu.Lock()
	d.snapshot = ids
	d.refreshed = time.Now()
	d.mu.Unlock()
	logger.Info("directory_refreshed", "identities", len(ids))
	return nil
}

// Snapshot returns the current identities. The returned slice must not be
// mutated.
func (d *Directory) Snapshot() []models.Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot
}

// RefreshedAt reports when the snapshot was last replaced; zero if never.
func (d *Directory) RefreshedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.refreshed
}

// Len reports the snapshot size.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.snapshot)
}
