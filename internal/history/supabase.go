package history

import (
	"context"
	"strings"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"tryon/internal/services"
)

// clearSentinelID matches no real row; PostgREST refuses unfiltered deletes.
const clearSentinelID = "00000000-0000-0000-0000-000000000000"

// SupabaseStore keeps history rows in a Supabase table through PostgREST.
type SupabaseStore struct {
	client *supabase.Client
	table  string
}

type supabaseRow struct {
	ID              string         `json:"id,omitempty"`
	PersonImageURL  string         `json:"person_image_url"`
	GarmentImageURL string         `json:"garment_image_url"`
	ResultImageURL  string         `json:"result_image_url"`
	IsFavorite      bool           `json:"is_favorite"`
	CreatedAt       string         `json:"created_at,omitempty"`
	GarmentType     *string        `json:"garment_type,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func (r supabaseRow) toResult() TryOnResult {
	result := TryOnResult{
		ID:              r.ID,
		PersonImageURL:  r.PersonImageURL,
		GarmentImageURL: r.GarmentImageURL,
		ResultImageURL:  r.ResultImageURL,
		IsFavorite:      r.IsFavorite,
		CreatedAt:       parseTimestamp(r.CreatedAt),
		Metadata:        r.Metadata,
	}
	if r.GarmentType != nil {
		result.GarmentType = *r.GarmentType
	}
	return result
}

// NewSupabaseStore builds a store for table on the project at url. No
// network call is made until the first query.
func NewSupabaseStore(url, key, table string) (*SupabaseStore, error) {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if url == "" || strings.TrimSpace(key) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "history", "open", "supabase url and key are required", nil)
	}
	if strings.TrimSpace(table) == "" {
		table = "tryon_history"
	}
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "history", "open", "create supabase client", err)
	}
	return &SupabaseStore{client: client, table: table}, nil
}

func (s *SupabaseStore) wrap(op string, err error) error {
	return services.Wrap(services.ErrExternalService, "history", op, "supabase request failed", err)
}

// wrapByID maps a rejected id filter to not found. postgrest-go drops the
// HTTP status and reports errors as "(code) message"; class 22 codes such as
// 22P02 mean the id could not be cast to the column type, so no row has it.
func (s *SupabaseStore) wrapByID(op, id string, err error) error {
	if strings.HasPrefix(postgrestCode(err), "22") {
		return notFound(op, id)
	}
	return s.wrap(op, err)
}

func postgrestCode(err error) string {
	msg := err.Error()
	if !strings.HasPrefix(msg, "(") {
		return ""
	}
	code, _, ok := strings.Cut(msg[1:], ")")
	if !ok {
		return ""
	}
	return strings.TrimSpace(code)
}

func newestFirst() *postgrest.OrderOpts {
	return &postgrest.OrderOpts{Ascending: false}
}

// Save inserts rec with is_favorite=false and returns the stored row.
func (s *SupabaseStore) Save(ctx context.Context, rec NewRecord) (*TryOnResult, error) {
	if err := rec.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := supabaseRow{
		PersonImageURL:  rec.PersonImageURL,
		GarmentImageURL: rec.GarmentImageURL,
		ResultImageURL:  rec.ResultImageURL,
		IsFavorite:      false,
		Metadata:        rec.Metadata,
	}
	if rec.GarmentType != "" {
		garment := rec.GarmentType
		row.GarmentType = &garment
	}
	var inserted []supabaseRow
	if _, err := s.client.From(s.table).Insert(row, false, "", "representation", "").ExecuteTo(&inserted); err != nil {
		return nil, s.wrap("save", err)
	}
	if len(inserted) == 0 {
		return nil, services.Wrap(services.ErrExternalService, "history", "save", "insert returned no row", nil)
	}
	result := inserted[0].toResult()
	return &result, nil
}

// List returns every row, newest first.
func (s *SupabaseStore) List(ctx context.Context) ([]TryOnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []supabaseRow
	if _, err := s.client.From(s.table).Select("*", "", false).Order("created_at", newestFirst()).ExecuteTo(&rows); err != nil {
		return nil, s.wrap("list", err)
	}
	return toResults(rows), nil
}

// Favorites returns favorited rows, newest first.
func (s *SupabaseStore) Favorites(ctx context.Context) ([]TryOnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []supabaseRow
	if _, err := s.client.From(s.table).Select("*", "", false).
		Eq("is_favorite", "true").
		Order("created_at", newestFirst()).
		ExecuteTo(&rows); err != nil {
		return nil, s.wrap("favorites", err)
	}
	return toResults(rows), nil
}

// Get fetches one row by id.
func (s *SupabaseStore) Get(ctx context.Context, id string) (*TryOnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []supabaseRow
	if _, err := s.client.From(s.table).Select("*", "", false).Eq("id", id).ExecuteTo(&rows); err != nil {
		return nil, s.wrapByID("get", id, err)
	}
	if len(rows) == 0 {
		return nil, notFound("get", id)
	}
	result := rows[0].toResult()
	return &result, nil
}

// SetFavorite updates the favorite flag of one row.
func (s *SupabaseStore) SetFavorite(ctx context.Context, id string, favorite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var rows []supabaseRow
	if _, err := s.client.From(s.table).
		Update(map[string]any{"is_favorite": favorite}, "representation", "").
		Eq("id", id).
		ExecuteTo(&rows); err != nil {
		return s.wrapByID("favorite", id, err)
	}
	if len(rows) == 0 {
		return notFound("favorite", id)
	}
	return nil
}

// Delete removes one row.
func (s *SupabaseStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var rows []supabaseRow
	if _, err := s.client.From(s.table).Delete("representation", "").Eq("id", id).ExecuteTo(&rows); err != nil {
		return s.wrapByID("delete", id, err)
	}
	if len(rows) == 0 {
		return notFound("delete", id)
	}
	return nil
}

// Clear removes every row.
func (s *SupabaseStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := s.client.From(s.table).Delete("minimal", "").Neq("id", clearSentinelID).Execute(); err != nil {
		return s.wrap("clear", err)
	}
	return nil
}

// Close is a no-op; the REST client holds no connections open.
func (s *SupabaseStore) Close() error { return nil }

func toResults(rows []supabaseRow) []TryOnResult {
	results := make([]TryOnResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.toResult())
	}
	return results
}
