package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tryon/internal/config"
	"tryon/internal/services"
)

// Garment types accepted by the try-on model.
const (
	GarmentTops      = "tops"
	GarmentBottoms   = "bottoms"
	GarmentOnePieces = "one-pieces"
)

// GarmentTypes lists the accepted garment types in display order.
func GarmentTypes() []string {
	return []string{GarmentTops, GarmentBottoms, GarmentOnePieces}
}

// ValidGarmentType reports whether value is a known garment type.
func ValidGarmentType(value string) bool {
	switch value {
	case GarmentTops, GarmentBottoms, GarmentOnePieces:
		return true
	default:
		return false
	}
}

// TryOnResult mirrors one row of the history table.
type TryOnResult struct {
	ID              string
	PersonImageURL  string
	GarmentImageURL string
	ResultImageURL  string
	IsFavorite      bool
	CreatedAt       time.Time
	GarmentType     string
	Metadata        map[string]any
}

// NewRecord carries the fields persisted for a freshly completed try-on.
type NewRecord struct {
	PersonImageURL  string
	GarmentImageURL string
	ResultImageURL  string
	GarmentType     string
	Metadata        map[string]any
}

func (r NewRecord) validate() error {
	if strings.TrimSpace(r.PersonImageURL) == "" || strings.TrimSpace(r.GarmentImageURL) == "" {
		return services.Wrap(services.ErrValidation, "history", "save", "person and garment image urls are required", nil)
	}
	if strings.TrimSpace(r.ResultImageURL) == "" {
		return services.Wrap(services.ErrValidation, "history", "save", "result image url is required", nil)
	}
	return nil
}

// Store persists try-on results. Listing methods return newest first.
type Store interface {
	Save(ctx context.Context, rec NewRecord) (*TryOnResult, error)
	List(ctx context.Context) ([]TryOnResult, error)
	Favorites(ctx context.Context) ([]TryOnResult, error)
	Get(ctx context.Context, id string) (*TryOnResult, error)
	SetFavorite(ctx context.Context, id string, favorite bool) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Close() error
}

// Open builds the backend selected by history.backend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.History.Backend {
	case config.HistoryBackendSupabase:
		return NewSupabaseStore(cfg.History.SupabaseURL, cfg.History.SupabaseKey, cfg.History.Table)
	case config.HistoryBackendSQLite, "":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(cfg.HistoryDBPath())
	default:
		return nil, services.Wrap(services.ErrConfiguration, "history", "open",
			fmt.Sprintf("unknown backend %q", cfg.History.Backend), nil)
	}
}

func notFound(op, id string) error {
	return services.Wrap(services.ErrNotFound, "history", op, fmt.Sprintf("record %s not found", id), nil)
}

func parseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
