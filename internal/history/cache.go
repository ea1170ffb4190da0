package history

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"tryon/internal/logging"
)

// Snapshot is a point-in-time copy of the cached views.
type Snapshot struct {
	History   []TryOnResult
	Favorites []TryOnResult
	Current   *TryOnResult
	LoadedAt  time.Time
}

// Cache holds the in-memory history, favorites and current result in front
// of a Store. Mutations go to the store first; the cached views change only
// after the store accepted the change. Safe for concurrent use.
type Cache struct {
	store  Store
	logger *slog.Logger

	// opMu serializes store mutations and reloads.
	opMu sync.Mutex

	mu        sync.RWMutex
	history   []TryOnResult
	favorites []TryOnResult
	current   *TryOnResult
	loadedAt  time.Time

	// recorded holds results added by Record while a reload is fetching;
	// seq orders them against the reload start.
	seq       uint64
	reloading int
	recorded  []recordedResult
}

type recordedResult struct {
	seq    uint64
	result TryOnResult
}

// NewCache wraps store. A nil logger discards output.
func NewCache(store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{
		store:  store,
		logger: logging.NewComponentLogger(logger, "history"),
	}
}

// Store returns the backing store.
func (c *Cache) Store() Store { return c.store }

// Load refreshes both history and favorites.
func (c *Cache) Load(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.reload(ctx)
}

// LoadHistory refreshes the history view only.
func (c *Cache) LoadHistory(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	start := c.beginReload()
	items, err := c.store.List(ctx)
	if err != nil {
		c.logFailure(ctx, "load history", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.endReload()
	if err != nil {
		return err
	}
	c.history = mergeRecorded(items, c.recorded, start, false)
	c.loadedAt = time.Now()
	return nil
}

// LoadFavorites refreshes the favorites view only.
func (c *Cache) LoadFavorites(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	items, err := c.store.Favorites(ctx)
	if err != nil {
		c.logFailure(ctx, "load favorites", err)
		return err
	}
	c.mu.Lock()
	c.favorites = items
	c.mu.Unlock()
	return nil
}

// ToggleFavorite sets the favorite flag in the store, then reloads both views
// and patches the current result when it is the same record.
func (c *Cache) ToggleFavorite(ctx context.Context, id string, favorite bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.store.SetFavorite(ctx, id, favorite); err != nil {
		c.logFailure(ctx, "toggle favorite", err, logging.String("history_id", id))
		return err
	}
	if err := c.reload(ctx); err != nil {
		// The store changed; keep the cache in step without the reload.
		c.mu.Lock()
		c.history = patchFavorite(c.history, id, favorite)
		c.favorites = favoritesOf(c.history)
		c.mu.Unlock()
	}
	c.mu.Lock()
	if c.current != nil && c.current.ID == id {
		updated := *c.current
		updated.IsFavorite = favorite
		c.current = &updated
	}
	c.mu.Unlock()
	return nil
}

// Delete removes a record from the store, then reloads both views.
func (c *Cache) Delete(ctx context.Context, id string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.store.Delete(ctx, id); err != nil {
		c.logFailure(ctx, "delete history", err, logging.String("history_id", id))
		return err
	}
	if err := c.reload(ctx); err != nil {
		c.mu.Lock()
		c.history = removeID(c.history, id)
		c.favorites = removeID(c.favorites, id)
		c.mu.Unlock()
	}
	return nil
}

// ClearAll deletes every record and empties both views.
func (c *Cache) ClearAll(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		c.logFailure(ctx, "clear history", err)
		return err
	}
	c.mu.Lock()
	c.history = nil
	c.favorites = nil
	c.recorded = nil
	c.mu.Unlock()
	return nil
}

// Record adds a freshly persisted result to the history view and makes it
// the current result. A reload whose fetch started before Record keeps the
// result in its views.
func (c *Cache) Record(result TryOnResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if c.reloading > 0 {
		c.recorded = append(c.recorded, recordedResult{seq: c.seq, result: result})
	}
	c.history = append([]TryOnResult{result}, removeID(c.history, result.ID)...)
	if result.IsFavorite {
		c.favorites = append([]TryOnResult{result}, removeID(c.favorites, result.ID)...)
	}
	current := result
	c.current = &current
}

// SetCurrent replaces the current result. A nil result clears it.
func (c *Cache) SetCurrent(result *TryOnResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if result == nil {
		c.current = nil
		return
	}
	current := *result
	c.current = &current
}

// Current returns a copy of the current result, if any.
func (c *Cache) Current() *TryOnResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	current := *c.current
	return &current
}

// History returns a copy of the cached history view.
func (c *Cache) History() []TryOnResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.history)
}

// Favorites returns a copy of the cached favorites view.
func (c *Cache) Favorites() []TryOnResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.favorites)
}

// Snapshot returns copies of every cached view.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{
		History:   slices.Clone(c.history),
		Favorites: slices.Clone(c.favorites),
		LoadedAt:  c.loadedAt,
	}
	if c.current != nil {
		current := *c.current
		snap.Current = &current
	}
	return snap
}

// reload fetches both lists before swapping either, so a failure leaves the
// previous views intact. Callers hold opMu.
func (c *Cache) reload(ctx context.Context) error {
	start := c.beginReload()
	items, err := c.store.List(ctx)
	var favorites []TryOnResult
	if err == nil {
		favorites, err = c.store.Favorites(ctx)
		if err != nil {
			c.logFailure(ctx, "load favorites", err)
		}
	} else {
		c.logFailure(ctx, "load history", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.endReload()
	if err != nil {
		return err
	}
	c.history = mergeRecorded(items, c.recorded, start, false)
	c.favorites = mergeRecorded(favorites, c.recorded, start, true)
	c.loadedAt = time.Now()
	return nil
}

func (c *Cache) beginReload() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloading++
	return c.seq
}

// endReload runs with mu held.
func (c *Cache) endReload() {
	c.reloading--
	if c.reloading == 0 {
		c.recorded = nil
	}
}

// mergeRecorded prepends results recorded after start that the fetched list
// does not contain yet.
func mergeRecorded(items []TryOnResult, recorded []recordedResult, start uint64, favoritesOnly bool) []TryOnResult {
	for _, r := range recorded {
		if r.seq <= start || (favoritesOnly && !r.result.IsFavorite) {
			continue
		}
		if slices.ContainsFunc(items, func(item TryOnResult) bool { return item.ID == r.result.ID }) {
			continue
		}
		items = append([]TryOnResult{r.result}, items...)
	}
	return items
}

func (c *Cache) logFailure(ctx context.Context, op string, err error, attrs ...logging.Attr) {
	attrs = append(attrs,
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check history backend connectivity"),
		logging.String(logging.FieldImpact, "cached history left unchanged"),
	)
	logging.WarnWithContext(logging.WithContext(ctx, c.logger), "history store operation failed", "history_store_failed", attrs...)
}

func patchFavorite(items []TryOnResult, id string, favorite bool) []TryOnResult {
	out := slices.Clone(items)
	for i := range out {
		if out[i].ID == id {
			out[i].IsFavorite = favorite
		}
	}
	return out
}

func favoritesOf(items []TryOnResult) []TryOnResult {
	out := make([]TryOnResult, 0, len(items))
	for _, item := range items {
		if item.IsFavorite {
			out = append(out, item)
		}
	}
	return out
}

func removeID(items []TryOnResult, id string) []TryOnResult {
	return slices.DeleteFunc(slices.Clone(items), func(item TryOnResult) bool {
		return item.ID == id
	})
}
