package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tryon/internal/history"
	"tryon/internal/services"
	"tryon/internal/testsupport"
)

func openSQLite(t *testing.T) *history.SQLiteStore {
	t.Helper()
	store, err := history.OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func saveRecord(t *testing.T, store history.Store, suffix string) *history.TryOnResult {
	t.Helper()
	rec, err := store.Save(context.Background(), history.NewRecord{
		PersonImageURL:  "https://img/person-" + suffix + ".jpg",
		GarmentImageURL: "https://img/garment-" + suffix + ".jpg",
		ResultImageURL:  "https://img/result-" + suffix + ".png",
		GarmentType:     history.GarmentBottoms,
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return rec
}

func TestSQLiteStoreListsNewestFirst(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	first := saveRecord(t, store, "1")
	time.Sleep(2 * time.Millisecond)
	second := saveRecord(t, store, "2")

	items, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 || items[0].ID != second.ID || items[1].ID != first.ID {
		t.Fatalf("expected newest first, got %#v", items)
	}
	if items[0].IsFavorite || items[0].GarmentType != history.GarmentBottoms {
		t.Fatalf("unexpected row: %#v", items[0])
	}

	if err := store.SetFavorite(ctx, first.ID, true); err != nil {
		t.Fatalf("SetFavorite failed: %v", err)
	}
	favorites, err := store.Favorites(ctx)
	if err != nil || len(favorites) != 1 || favorites[0].ID != first.ID {
		t.Fatalf("Favorites = %#v, %v", favorites, err)
	}

	if err := store.SetFavorite(ctx, "missing", true); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, first.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	items, _ = store.List(ctx)
	if len(items) != 0 {
		t.Fatalf("expected empty list, got %d", len(items))
	}
}

func TestSQLiteStoreKeepsMetadata(t *testing.T) {
	store := openSQLite(t)
	rec, err := store.Save(context.Background(), history.NewRecord{
		PersonImageURL:  "https://img/p.jpg",
		GarmentImageURL: "https://img/g.jpg",
		ResultImageURL:  "https://img/r.png",
		Metadata:        map[string]any{"request_id": "req-9"},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Metadata["request_id"] != "req-9" || got.GarmentType != "" {
		t.Fatalf("unexpected row: %#v", got)
	}
}

func TestSaveRequiresResultURL(t *testing.T) {
	store := openSQLite(t)
	_, err := store.Save(context.Background(), history.NewRecord{
		PersonImageURL:  "https://img/p.jpg",
		GarmentImageURL: "https://img/g.jpg",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	sqlite, ok := store.(*history.SQLiteStore)
	if !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}
	if sqlite.Path() != cfg.HistoryDBPath() {
		t.Fatalf("unexpected path %q", sqlite.Path())
	}

	cfg = testsupport.NewConfig(t, testsupport.WithSupabase("https://proj.supabase.co", "anon"))
	store, err = history.Open(cfg)
	if err != nil {
		t.Fatalf("Open supabase failed: %v", err)
	}
	if _, ok := store.(*history.SupabaseStore); !ok {
		t.Fatalf("expected supabase store, got %T", store)
	}
}
