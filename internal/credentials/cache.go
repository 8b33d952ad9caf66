// Package credentials holds provider API keys in memory so the execution
// path never touches the database or the cipher per request.
package credentials

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/internal/model"
	"github.com/promptdeck/promptdeck/internal/secrets"
)

// Store loads the persisted credential rows the cache is refreshed from.
type Store interface {
	ListActiveCredentials(ctx context.Context) ([]model.Credential, error)
}

// Entry is one decrypted credential ready for dispatch.
type Entry struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Provider    model.ProviderKind
	BaseURL     string
	APIKey      string
}

type snapshot struct {
	entries map[uuid.UUID]Entry
	loaded  time.Time
}

// Cache is a read-through-free snapshot of all active credentials. Refresh
// replaces the whole snapshot atomically; lookups between refreshes may see
// up to one interval of staleness, which is acceptable for revocation.
type Cache struct {
	store    Store
	keeper   *secrets.Keeper
	logger   *slog.Logger
	interval time.Duration
	current  atomic.Pointer[snapshot]
}

// New creates an empty cache. Call Refresh once before serving traffic,
// then Run to keep it current.
func New(store Store, keeper *secrets.Keeper, interval time.Duration, logger *slog.Logger) *Cache {
	c := &Cache{
		store:    store,
		keeper:   keeper,
		logger:   logger,
		interval: interval,
	}
	c.current.Store(&snapshot{entries: map[uuid.UUID]Entry{}})
	return c
}

// Refresh loads every active credential, decrypts the secrets, and swaps
// the snapshot in one step. Rows that fail to decrypt are skipped with a
// log line rather than failing the whole refresh.
func (c *Cache) Refresh(ctx context.Context) error {
	rows, err := c.store.ListActiveCredentials(ctx)
	if err != nil {
		return err
	}

	entries := make(map[uuid.UUID]Entry, len(rows))
	for _, row := range rows {
		key, err := c.keeper.Open(row.Secret)
		if err != nil {
			c.logger.Error("credential secret undecryptable, skipping",
				"credential_id", row.ID, "error", err)
			continue
		}
		e := Entry{
			ID:          row.ID,
			WorkspaceID: row.WorkspaceID,
			Provider:    row.Provider,
			APIKey:      key,
		}
		if row.BaseURL != nil {
			e.BaseURL = *row.BaseURL
		}
		entries[row.ID] = e
	}

	c.current.Store(&snapshot{entries: entries, loaded: time.Now()})
	return nil
}

// Run refreshes the cache on the configured interval until ctx is
// cancelled. A failed refresh keeps the previous snapshot.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error("credential cache refresh failed", "error", err)
			}
		}
	}
}

// Lookup returns the decrypted credential if it exists and belongs to the
// workspace. A credential in another workspace is indistinguishable from
// one that does not exist.
func (c *Cache) Lookup(workspaceID, credentialID uuid.UUID) (Entry, bool) {
	snap := c.current.Load()
	e, ok := snap.entries[credentialID]
	if !ok || e.WorkspaceID != workspaceID {
		return Entry{}, false
	}
	return e, true
}

// Len reports the number of cached credentials, for health reporting.
func (c *Cache) Len() int {
	return len(c.current.Load().entries)
}

// LoadedAt reports when the current snapshot was taken. The zero time
// means no refresh has succeeded yet.
func (c *Cache) LoadedAt() time.Time {
	return c.current.Load().loaded
}
