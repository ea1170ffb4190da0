package jobs_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tryon/internal/jobs"
	"tryon/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if store.Path() != filepath.Join(cfg.Paths.DataDir, "jobs.db") {
		t.Fatalf("unexpected store path %q", store.Path())
	}

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "client-a")
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != jobs.StatusPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}
	if job.ProgressMessage != "Waiting to submit" {
		t.Fatalf("unexpected progress message %q", job.ProgressMessage)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.GarmentType != "tops" || fetched.ClientID != "client-a" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}

	missing, err := store.GetByID(ctx, job.ID+100)
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing job, got %#v, %v", missing, err)
	}

	// Reopening keeps the data and accepts the schema version.
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	reopened, err := jobs.OpenPath(store.Path())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	again, err := reopened.GetByID(ctx, job.ID)
	if err != nil || again == nil {
		t.Fatalf("expected job after reopen, got %#v, %v", again, err)
	}
}

func TestNewJobRequiresImageURLs(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	_, err := store.NewJob(context.Background(), jobs.NewJobParams{PersonImageURL: "https://a/p.jpg"})
	if err == nil {
		t.Fatal("expected error when garment url missing")
	}
}

func TestNewJobRejectsSecondInFlightForClient(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := testsupport.NewJob(t, store, "client-a")

	_, err := store.NewJob(ctx, jobs.NewJobParams{
		ClientID:        "client-a",
		PersonImageURL:  "https://images.example/p2.jpg",
		GarmentImageURL: "https://images.example/g2.jpg",
	})
	if !errors.Is(err, jobs.ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}

	// Other clients and anonymous jobs are unaffected.
	testsupport.NewJob(t, store, "client-b")
	testsupport.NewJob(t, store, "")
	testsupport.NewJob(t, store, "")

	active, err := store.ActiveForClient(ctx, "client-a")
	if err != nil {
		t.Fatalf("ActiveForClient failed: %v", err)
	}
	if active == nil || active.ID != first.ID {
		t.Fatalf("expected first job active, got %#v", active)
	}

	first.SetFailed("boom")
	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := store.NewJob(ctx, jobs.NewJobParams{
		ClientID:        "client-a",
		PersonImageURL:  "https://images.example/p3.jpg",
		GarmentImageURL: "https://images.example/g3.jpg",
	}); err != nil {
		t.Fatalf("expected new job once previous failed, got %v", err)
	}
}

func TestClaimNextIsExclusive(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := testsupport.NewJob(t, store, "client-a")
	second := testsupport.NewJob(t, store, "client-b")

	claimed, err := store.ClaimNext(ctx, jobs.StatusPending, jobs.StatusSubmitting)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest job claimed, got %#v", claimed)
	}
	if claimed.Status != jobs.StatusSubmitting || claimed.LastHeartbeat == nil {
		t.Fatalf("expected submitting with heartbeat, got %#v", claimed)
	}

	next, err := store.ClaimNext(ctx, jobs.StatusPending, jobs.StatusSubmitting)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if next == nil || next.ID != second.ID {
		t.Fatalf("expected second job claimed, got %#v", next)
	}

	none, err := store.ClaimNext(ctx, jobs.StatusPending, jobs.StatusSubmitting)
	if err != nil || none != nil {
		t.Fatalf("expected nothing to claim, got %#v, %v", none, err)
	}
}

func TestResetStuckProcessing(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	cases := []struct {
		client   string
		initial  jobs.Status
		expected jobs.Status
	}{
		{"a", jobs.StatusSubmitting, jobs.StatusPending},
		{"b", jobs.StatusProcessing, jobs.StatusSubmitted},
		{"c", jobs.StatusSubmitted, jobs.StatusSubmitted},
		{"d", jobs.StatusCompleted, jobs.StatusCompleted},
	}
	var ids []int64
	for _, tc := range cases {
		job := testsupport.NewJob(t, store, tc.client)
		job.Status = tc.initial
		now := time.Now()
		job.LastHeartbeat = &now
		if err := store.Update(ctx, job); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		ids = append(ids, job.ID)
	}

	affected, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if affected != 2 {
		t.Fatalf("expected 2 jobs reset, got %d", affected)
	}
	for i, tc := range cases {
		job, err := store.GetByID(ctx, ids[i])
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if job.Status != tc.expected {
			t.Fatalf("%s: expected %s, got %s", tc.initial, tc.expected, job.Status)
		}
		if jobs.IsProcessingStatus(tc.initial) && job.LastHeartbeat != nil {
			t.Fatalf("%s: expected heartbeat cleared", tc.initial)
		}
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	stale := testsupport.NewJob(t, store, "stale")
	fresh := testsupport.NewJob(t, store, "fresh")

	old := time.Now().Add(-10 * time.Minute)
	stale.Status = jobs.StatusProcessing
	stale.LastHeartbeat = &old
	if err := store.Update(ctx, stale); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	recent := time.Now()
	fresh.Status = jobs.StatusSubmitting
	fresh.LastHeartbeat = &recent
	if err := store.Update(ctx, fresh); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	affected, err := store.ReclaimStaleProcessing(ctx, time.Now().Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", affected)
	}
	got, _ := store.GetByID(ctx, stale.ID)
	if got.Status != jobs.StatusSubmitted {
		t.Fatalf("expected stale job rolled back to submitted, got %s", got.Status)
	}
	got, _ = store.GetByID(ctx, fresh.ID)
	if got.Status != jobs.StatusSubmitting {
		t.Fatalf("expected fresh job untouched, got %s", got.Status)
	}

	if err := store.UpdateHeartbeat(ctx, fresh.ID); err != nil {
		t.Fatalf("UpdateHeartbeat failed: %v", err)
	}
}

func TestRetryFailedClearsSubmission(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "client-a")
	job.FalRequestID = "req-1"
	job.StatusURL = "https://queue.example/status"
	job.SetFailed("API Error: 500 - {}")
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	affected, err := store.RetryFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 retried job, got %d", affected)
	}
	got, _ := store.GetByID(ctx, job.ID)
	if got.Status != jobs.StatusPending || got.HasSubmission() || got.ErrorMessage != "" {
		t.Fatalf("expected clean pending job, got %#v", got)
	}
}

func TestRetryFailedRespectsInFlightClient(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	failed := testsupport.NewJob(t, store, "client-a")
	failed.SetFailed("boom")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	testsupport.NewJob(t, store, "client-a")

	if _, err := store.RetryFailed(ctx, failed.ID); !errors.Is(err, jobs.ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}

	affected, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("bulk RetryFailed failed: %v", err)
	}
	if affected != 0 {
		t.Fatalf("expected conflicting job skipped, got %d", affected)
	}
}

func TestCancelActiveJob(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "client-a")
	ok, err := store.Cancel(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, got %v, %v", ok, err)
	}
	got, _ := store.GetByID(ctx, job.ID)
	if got.Status != jobs.StatusCanceled || got.ErrorMessage != jobs.UserCancelReason {
		t.Fatalf("unexpected canceled job: %#v", got)
	}

	ok, err = store.Cancel(ctx, job.ID)
	if err != nil || ok {
		t.Fatalf("expected second cancel to be a no-op, got %v, %v", ok, err)
	}

	// The client slot is free again.
	testsupport.NewJob(t, store, "client-a")
}

func TestStatsAndClear(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	done := testsupport.NewJob(t, store, "a")
	done.SetCompleted("https://cdn.example/result.png", "hist-1")
	if err := store.Update(ctx, done); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	failed := testsupport.NewJob(t, store, "b")
	failed.SetFailed("Request timeout")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	testsupport.NewJob(t, store, "c")

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 3 || health.Pending != 1 || health.Completed != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health: %#v", health)
	}

	listed, err := store.List(ctx, jobs.StatusCompleted)
	if err != nil || len(listed) != 1 || listed[0].ResultImageURL != "https://cdn.example/result.png" {
		t.Fatalf("unexpected completed list: %#v, %v", listed, err)
	}

	if n, err := store.ClearCompleted(ctx); err != nil || n != 1 {
		t.Fatalf("ClearCompleted = %d, %v", n, err)
	}
	if n, err := store.ClearFailed(ctx); err != nil || n != 1 {
		t.Fatalf("ClearFailed = %d, %v", n, err)
	}
	if n, err := store.Clear(ctx); err != nil || n != 1 {
		t.Fatalf("Clear = %d, %v", n, err)
	}
}

func TestUpdateIfStatusSkipsMovedRows(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.NewJob(t, store, "client-a")
	claimed, err := store.ClaimNext(ctx, jobs.StatusPending, jobs.StatusSubmitting)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext = %#v, %v", claimed, err)
	}
	if err := store.UpdateProgress(ctx, claimed.ID, 3, "In queue (position 3)"); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	got, _ := store.GetByID(ctx, claimed.ID)
	if got.QueuePosition != 3 || got.ProgressMessage != "In queue (position 3)" {
		t.Fatalf("unexpected progress: %#v", got)
	}

	if ok, err := store.Cancel(ctx, claimed.ID); err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	claimed.Status = jobs.StatusSubmitted
	claimed.FalRequestID = "req-1"
	ok, err := store.UpdateIfStatus(ctx, claimed, jobs.StatusSubmitting)
	if err != nil {
		t.Fatalf("UpdateIfStatus failed: %v", err)
	}
	if ok {
		t.Fatal("expected canceled row to be left alone")
	}
	got, _ = store.GetByID(ctx, claimed.ID)
	if got.Status != jobs.StatusCanceled || got.HasSubmission() {
		t.Fatalf("expected canceled row unchanged, got %#v", got)
	}
}

func TestRecordHistoryIDAndHasActive(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if active, err := store.HasActive(ctx, "client-a"); err != nil || active {
		t.Fatalf("HasActive before enqueue = %v, %v", active, err)
	}
	testsupport.NewJob(t, store, "client-a")
	if active, err := store.HasActive(ctx, " client-a "); err != nil || !active {
		t.Fatalf("HasActive after enqueue = %v, %v", active, err)
	}
	if active, err := store.HasActive(ctx, ""); err != nil || active {
		t.Fatalf("blank client must never be active, got %v, %v", active, err)
	}

	claimed, err := store.ClaimNext(ctx, jobs.StatusPending, jobs.StatusProcessing)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext = %#v, %v", claimed, err)
	}
	ok, err := store.RecordHistoryID(ctx, claimed.ID, "hist-1", jobs.StatusProcessing)
	if err != nil || !ok {
		t.Fatalf("RecordHistoryID = %v, %v", ok, err)
	}
	got, _ := store.GetByID(ctx, claimed.ID)
	if got.HistoryID != "hist-1" || got.Status != jobs.StatusProcessing {
		t.Fatalf("unexpected job after RecordHistoryID: %#v", got)
	}

	if ok, err := store.Cancel(ctx, claimed.ID); err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	ok, err = store.RecordHistoryID(ctx, claimed.ID, "hist-2", jobs.StatusProcessing)
	if err != nil || ok {
		t.Fatalf("expected canceled job left alone, got %v, %v", ok, err)
	}
	if active, _ := store.HasActive(ctx, "client-a"); active {
		t.Fatal("canceled job must not count as active")
	}
}
