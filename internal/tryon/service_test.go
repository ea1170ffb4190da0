package tryon_test

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"tryon/internal/history"
	"tryon/internal/jobs"
	"tryon/internal/services"
	"tryon/internal/services/fal"
	"tryon/internal/testsupport"
	"tryon/internal/tryon"
)

type fixture struct {
	svc   *tryon.Service
	fal   *testsupport.FalServer
	store *jobs.Store
	cache *history.Cache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	falServer := testsupport.NewFalServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFalURL(falServer.URL))
	store := testsupport.MustOpenStore(t, cfg)

	historyStore, err := history.OpenSQLite(filepath.Join(cfg.Paths.DataDir, "history.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { historyStore.Close() })
	cache := history.NewCache(historyStore, nil)

	client := fal.NewClient(fal.Config{
		APIKey:   cfg.Fal.APIKey,
		RunURL:   cfg.Fal.RunURL,
		QueueURL: cfg.Fal.QueueURL,
		Model:    cfg.Fal.Model,
	}, fal.WithSleeper(func(time.Duration) {}), fal.WithRetryMaxAttempts(1))

	return fixture{
		svc:   tryon.NewService(client, store, cache, nil),
		fal:   falServer,
		store: store,
		cache: cache,
	}
}

func validRequest() tryon.Request {
	return tryon.Request{
		PersonImageURL:  "https://images.example/person.jpg",
		GarmentImageURL: "https://images.example/garment.jpg",
		GarmentType:     "tops",
	}
}

func TestValidateMessages(t *testing.T) {
	cases := []struct {
		name      string
		req       tryon.Request
		allowData bool
		message   string
	}{
		{"missing person", tryon.Request{GarmentImageURL: "https://a/g.jpg"}, false, "personImageUrl is required and must be a string"},
		{"missing garment", tryon.Request{PersonImageURL: "https://a/p.jpg"}, false, "garmentImageUrl is required and must be a string"},
		{"bad person scheme", tryon.Request{PersonImageURL: "ftp://a/p.jpg", GarmentImageURL: "https://a/g.jpg"}, false, "personImageUrl must be a valid HTTP/HTTPS URL"},
		{"bad garment scheme", tryon.Request{PersonImageURL: "https://a/p.jpg", GarmentImageURL: "g.jpg"}, false, "garmentImageUrl must be a valid HTTP/HTTPS URL"},
		{"data url sync", tryon.Request{PersonImageURL: "data:image/png;base64,AAAA", GarmentImageURL: "https://a/g.jpg"}, false, "personImageUrl must be a valid HTTP/HTTPS URL"},
		{"bad garment type", tryon.Request{PersonImageURL: "https://a/p.jpg", GarmentImageURL: "https://a/g.jpg", GarmentType: "hats"}, false, "garmentType must be one of tops, bottoms, one-pieces"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tryon.Validate(tc.req, tc.allowData)
			if err == nil || err.Error() != tc.message {
				t.Fatalf("expected %q, got %v", tc.message, err)
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation marker, got %v", err)
			}
		})
	}

	if err := tryon.Validate(tryon.Request{PersonImageURL: "HTTPS://A/p.jpg", GarmentImageURL: "http://a/g.jpg"}, false); err != nil {
		t.Fatalf("expected case-insensitive scheme to pass, got %v", err)
	}
	if err := tryon.Validate(tryon.Request{PersonImageURL: "data:image/png;base64,AAAA", GarmentImageURL: "https://a/g.jpg"}, true); err != nil {
		t.Fatalf("expected data url accepted for async path, got %v", err)
	}
}

func TestProcessPersistsAndRecords(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	resp, err := fx.svc.Process(ctx, "client-a", validRequest())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !resp.Success || resp.ResultImageURL != fx.fal.ResultURL() || resp.Message != tryon.MessageSuccess {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if resp.HistoryID == "" {
		t.Fatal("expected history id")
	}
	input := fx.fal.LastInput()
	if input["garment_type"] != "tops" || input["person_image_url"] != "https://images.example/person.jpg" {
		t.Fatalf("unexpected model input: %#v", input)
	}

	current := fx.cache.Current()
	if current == nil || current.ID != resp.HistoryID || current.Metadata["model"] == nil {
		t.Fatalf("expected current result recorded, got %#v", current)
	}
	items, err := fx.cache.Store().List(ctx)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one stored row, got %#v, %v", items, err)
	}
}

func TestProcessReportsModelFailure(t *testing.T) {
	fx := newFixture(t)
	fx.fal.Fail(http.StatusUnprocessableEntity, `{"detail":"bad image"}`)

	resp, err := fx.svc.Process(context.Background(), "client-a", validRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if resp.Success || resp.Error != `API Error: 422 - {"detail":"bad image"}` {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if len(fx.cache.History()) != 0 {
		t.Fatal("expected nothing recorded on failure")
	}
}

func TestProcessRejectsInvalidRequest(t *testing.T) {
	fx := newFixture(t)
	resp, err := fx.svc.Process(context.Background(), "client-a", tryon.Request{})
	if !errors.Is(err, services.ErrValidation) || resp.Success {
		t.Fatalf("expected validation failure, got %#v, %v", resp, err)
	}
	if runs, _, _ := fx.fal.Counts(); runs != 0 {
		t.Fatalf("expected no model call, got %d", runs)
	}
}

// saveFailingStore rejects every Save and delegates the rest.
type saveFailingStore struct {
	history.Store
}

func (saveFailingStore) Save(context.Context, history.NewRecord) (*history.TryOnResult, error) {
	return nil, errors.New("history backend offline")
}

func TestProcessSucceedsWhenHistorySaveFails(t *testing.T) {
	fx := newFixture(t)
	cache := history.NewCache(saveFailingStore{Store: fx.cache.Store()}, nil)
	svc := tryon.NewService(testsupport.NewFalClient(testsupport.NewConfig(t, testsupport.WithFalURL(fx.fal.URL))), fx.store, cache, nil)

	resp, err := svc.Process(context.Background(), "client-a", validRequest())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !resp.Success || resp.ResultImageURL != fx.fal.ResultURL() || resp.Message != tryon.MessageSuccess {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if resp.HistoryID != "" {
		t.Fatalf("expected no history id, got %q", resp.HistoryID)
	}
	if len(cache.History()) != 0 || cache.Current() != nil {
		t.Fatalf("expected nothing recorded, got %#v", cache.Snapshot())
	}
}

func TestProcessAllowsOneRequestPerClient(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	started, release := fx.fal.HoldRuns()
	defer release()

	type outcome struct {
		resp tryon.Response
		err  error
	}
	first := make(chan outcome, 1)
	go func() {
		resp, err := fx.svc.Process(ctx, "screen-1", validRequest())
		first <- outcome{resp, err}
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the model")
	}

	resp, err := fx.svc.Process(ctx, "screen-1", validRequest())
	if !errors.Is(err, jobs.ErrInFlight) || resp.Success || resp.Error != jobs.ErrInFlight.Error() {
		t.Fatalf("expected in-flight rejection, got %#v, %v", resp, err)
	}
	if _, err := fx.svc.Enqueue(ctx, "screen-1", validRequest()); !errors.Is(err, jobs.ErrInFlight) {
		t.Fatalf("expected queued request refused during sync try-on, got %v", err)
	}

	release()
	got := <-first
	if got.err != nil || !got.resp.Success {
		t.Fatalf("first request failed: %#v, %v", got.resp, got.err)
	}
	if _, err := fx.svc.Process(ctx, "screen-1", validRequest()); err != nil {
		t.Fatalf("expected client free after completion, got %v", err)
	}
}

func TestProcessRefusedWhileClientHasQueuedJob(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if _, err := fx.svc.Enqueue(ctx, "screen-1", validRequest()); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := fx.svc.Process(ctx, "screen-1", validRequest()); !errors.Is(err, jobs.ErrInFlight) {
		t.Fatalf("expected in-flight rejection, got %v", err)
	}
	if _, err := fx.svc.Process(ctx, "screen-2", validRequest()); err != nil {
		t.Fatalf("expected other client accepted, got %v", err)
	}
	if runs, _, _ := fx.fal.Counts(); runs != 1 {
		t.Fatalf("expected one model run, got %d", runs)
	}
}

func TestEnqueueEnforcesOneInFlightPerClient(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	job, err := fx.svc.Enqueue(ctx, "screen-1", validRequest())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.Status != jobs.StatusPending {
		t.Fatalf("expected pending job, got %s", job.Status)
	}
	_, err = fx.svc.Enqueue(ctx, "screen-1", validRequest())
	if !errors.Is(err, jobs.ErrInFlight) || services.HTTPStatus(err) != http.StatusConflict {
		t.Fatalf("expected in-flight conflict, got %v", err)
	}
	if _, err := fx.svc.Enqueue(ctx, "screen-2", validRequest()); err != nil {
		t.Fatalf("expected other client accepted, got %v", err)
	}
	listed, err := fx.svc.ListJobs(ctx, "screen-1")
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListJobs = %#v, %v", listed, err)
	}
}

func TestRetryAndCancel(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	job, err := fx.svc.Enqueue(ctx, "screen-1", validRequest())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := fx.svc.Retry(ctx, job.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict retrying active job, got %v", err)
	}

	job.Status = jobs.StatusSubmitted
	job.FalRequestID = "req-77"
	if err := fx.store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	canceled, err := fx.svc.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if canceled.Status != jobs.StatusCanceled {
		t.Fatalf("expected canceled, got %s", canceled.Status)
	}
	if _, _, cancels := fx.fal.Counts(); cancels != 1 {
		t.Fatalf("expected fal cancel call, got %d", cancels)
	}
	if _, err := fx.svc.Cancel(ctx, job.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict canceling twice, got %v", err)
	}

	retried, err := fx.svc.Retry(ctx, job.ID)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if retried.Status != jobs.StatusPending || retried.HasSubmission() {
		t.Fatalf("expected fresh pending job, got %#v", retried)
	}

	if _, err := fx.svc.Job(ctx, 9999); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
