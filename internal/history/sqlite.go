package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tryon/internal/services"
)

//go:embed schema.sql
var schemaSQL string

const (
	historyColumns = `id, person_image_url, garment_image_url, result_image_url, is_favorite, created_at, garment_type, metadata`
	timeLayout     = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteStore keeps history rows in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the history database at dbPath.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &SQLiteStore{db: db, path: dbPath}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts rec with a fresh UUID and is_favorite=false.
func (s *SQLiteStore) Save(ctx context.Context, rec NewRecord) (*TryOnResult, error) {
	if err := rec.validate(); err != nil {
		return nil, err
	}
	var metadata any
	if len(rec.Metadata) > 0 {
		encoded, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(encoded)
	}
	result := TryOnResult{
		ID:              uuid.NewString(),
		PersonImageURL:  rec.PersonImageURL,
		GarmentImageURL: rec.GarmentImageURL,
		ResultImageURL:  rec.ResultImageURL,
		CreatedAt:       time.Now().UTC(),
		GarmentType:     rec.GarmentType,
		Metadata:        rec.Metadata,
	}
	var garment any
	if rec.GarmentType != "" {
		garment = rec.GarmentType
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tryon_history (`+historyColumns+`) VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		result.ID,
		result.PersonImageURL,
		result.GarmentImageURL,
		result.ResultImageURL,
		result.CreatedAt.Format(timeLayout),
		garment,
		metadata,
	); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}
	return &result, nil
}

// List returns every row, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]TryOnResult, error) {
	return s.query(ctx, `SELECT `+historyColumns+` FROM tryon_history ORDER BY created_at DESC, id DESC`)
}

// Favorites returns favorited rows, newest first.
func (s *SQLiteStore) Favorites(ctx context.Context) ([]TryOnResult, error) {
	return s.query(ctx, `SELECT `+historyColumns+` FROM tryon_history WHERE is_favorite = 1 ORDER BY created_at DESC, id DESC`)
}

// Get fetches one row by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*TryOnResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM tryon_history WHERE id = ?`, id)
	result, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, notFound("get", id)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SetFavorite updates the favorite flag of one row.
func (s *SQLiteStore) SetFavorite(ctx context.Context, id string, favorite bool) error {
	flag := 0
	if favorite {
		flag = 1
	}
	return s.execOne(ctx, "favorite", id, `UPDATE tryon_history SET is_favorite = ? WHERE id = ?`, flag, id)
}

// Delete removes one row.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.execOne(ctx, "delete", id, `DELETE FROM tryon_history WHERE id = ?`, id)
}

// Clear removes every row.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tryon_history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) execOne(ctx context.Context, op, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s history: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound(op, id)
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]TryOnResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "history", "list", "query history", err)
	}
	defer rows.Close()

	results := make([]TryOnResult, 0)
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func scanResult(scanner interface{ Scan(dest ...any) error }) (TryOnResult, error) {
	var (
		result    TryOnResult
		favorite  int
		createdAt string
		garment   sql.NullString
		metadata  sql.NullString
	)
	if err := scanner.Scan(
		&result.ID,
		&result.PersonImageURL,
		&result.GarmentImageURL,
		&result.ResultImageURL,
		&favorite,
		&createdAt,
		&garment,
		&metadata,
	); err != nil {
		return TryOnResult{}, err
	}
	result.IsFavorite = favorite != 0
	result.CreatedAt = parseTimestamp(createdAt)
	if garment.Valid {
		result.GarmentType = garment.String
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &result.Metadata); err != nil {
			return TryOnResult{}, fmt.Errorf("decode metadata for %s: %w", result.ID, err)
		}
	}
	return result, nil
}
