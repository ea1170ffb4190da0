package testsupport

import (
	"context"
	"testing"

	"tryon/internal/config"
	"tryon/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a pending try-on job for tests using the provided store.
func NewJob(t testing.TB, store *jobs.Store, clientID string) *jobs.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), jobs.NewJobParams{
		ClientID:        clientID,
		PersonImageURL:  "https://images.example/person.jpg",
		GarmentImageURL: "https://images.example/garment.jpg",
		GarmentType:     "tops",
	})
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}
