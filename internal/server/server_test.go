package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tryon/internal/api"
	"tryon/internal/config"
	"tryon/internal/history"
	"tryon/internal/jobs"
	"tryon/internal/server"
	"tryon/internal/testsupport"
	"tryon/internal/tryon"
	"tryon/internal/workflow"
)

type harness struct {
	cfg     *config.Config
	fal     *testsupport.FalServer
	store   *jobs.Store
	cache   *history.Cache
	handler http.Handler
}

type harnessOption func(*config.Config)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	falServer := testsupport.NewFalServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFalURL(falServer.URL))
	for _, opt := range opts {
		opt(cfg)
	}
	store := testsupport.MustOpenStore(t, cfg)
	historyStore, err := history.OpenSQLite(filepath.Join(cfg.Paths.DataDir, "history.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { historyStore.Close() })
	cache := history.NewCache(historyStore, nil)
	svc := tryon.NewService(testsupport.NewFalClient(cfg), store, cache, nil)

	srv, err := server.New(cfg, svc, nil, nil)
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	return &harness{cfg: cfg, fal: falServer, store: store, cache: cache, handler: srv.Handler()}
}

func (h *harness) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

var validBody = map[string]string{
	"personImageUrl":  "https://images.example/person.jpg",
	"garmentImageUrl": "https://images.example/garment.jpg",
	"garmentType":     "tops",
}

func TestRootAndHealth(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/", nil)
	info := decode[api.ServerInfo](t, rec)
	if info.Message != "Virtual Try-On API Server" || info.Version != server.Version {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Endpoints["tryOn"] != "/api/try-on" || info.Endpoints["upload"] != "/api/upload" {
		t.Fatalf("unexpected endpoints %v", info.Endpoints)
	}

	rec = h.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	health := decode[api.HealthResponse](t, rec)
	if health.Status != "ok" || api.ParseTime(health.Timestamp).IsZero() || health.Uptime < 0 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestTryOnSuccessPersistsHistory(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/try-on", validBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[api.TryOnResponse](t, rec)
	if !resp.Success || resp.ResultImageURL != h.fal.ResultURL() || resp.Message != tryon.MessageSuccess {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.HistoryID == "" {
		t.Fatal("expected history id")
	}

	rec = h.do(t, http.MethodGet, "/api/history", nil)
	list := decode[api.HistoryListResponse](t, rec)
	if len(list.Results) != 1 || list.Results[0].ID != resp.HistoryID {
		t.Fatalf("unexpected history %+v", list)
	}
}

func TestTryOnValidationErrors(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{"missing person", map[string]string{"garmentImageUrl": "https://a/g.jpg"}, http.StatusBadRequest, "personImageUrl is required and must be a string"},
		{"non-string person", `{"personImageUrl": 5, "garmentImageUrl": "https://a/g.jpg"}`, http.StatusBadRequest, "personImageUrl is required and must be a string"},
		{"bad scheme", map[string]string{"personImageUrl": "https://a/p.jpg", "garmentImageUrl": "ftp://a/g.jpg"}, http.StatusBadRequest, "garmentImageUrl must be a valid HTTP/HTTPS URL"},
		{"malformed", `{"personImageUrl":`, http.StatusBadRequest, "Invalid JSON body"},
		{"empty body", "", http.StatusBadRequest, "personImageUrl is required and must be a string"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/try-on", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body.String())
			}
			resp := decode[api.ErrorResponse](t, rec)
			if resp.Success || resp.Error != tc.message {
				t.Fatalf("unexpected error %+v", resp)
			}
		})
	}
	if runs, _, _ := h.fal.Counts(); runs != 0 {
		t.Fatalf("fal called %d times for invalid requests", runs)
	}
}

func TestTryOnModelFailureReturns503(t *testing.T) {
	h := newHarness(t)
	h.fal.Fail(http.StatusInternalServerError, `{"detail":"overloaded"}`)
	rec := h.do(t, http.MethodPost, "/api/try-on", validBody)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[api.TryOnResponse](t, rec)
	if resp.Success || resp.Error != `API Error: 500 - {"detail":"overloaded"}` {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (h *harness) upload(t *testing.T, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestUploadReturnsDataURL(t *testing.T) {
	h := newHarness(t)
	png := testsupport.PNG(t)
	body, ct := multipartBody(t, "image", "me.png", "image/png", png)
	rec := h.upload(t, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[api.UploadResponse](t, rec)
	if !resp.Success || resp.Message != "Image uploaded successfully" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.HasPrefix(resp.ImageURL, "data:image/png;base64,") {
		t.Fatalf("unexpected image url %.40q", resp.ImageURL)
	}
}

func TestUploadSniffsMissingContentType(t *testing.T) {
	h := newHarness(t)
	body, ct := multipartBody(t, "image", "me.png", "", testsupport.PNG(t))
	rec := h.upload(t, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUploadRejections(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Upload.MaxFileSize = 64 })

	body, ct := multipartBody(t, "other", "me.png", "image/png", testsupport.Payload(8))
	rec := h.upload(t, body, ct)
	if rec.Code != http.StatusBadRequest || decode[api.ErrorResponse](t, rec).Error != "No file uploaded" {
		t.Fatalf("missing field: %d %s", rec.Code, rec.Body.String())
	}

	body, ct = multipartBody(t, "image", "doc.gif", "image/gif", testsupport.Payload(8))
	rec = h.upload(t, body, ct)
	if rec.Code != http.StatusBadRequest || decode[api.ErrorResponse](t, rec).Error != "Invalid file type. Only JPEG, PNG, and WebP are allowed." {
		t.Fatalf("bad type: %d %s", rec.Code, rec.Body.String())
	}

	body, ct = multipartBody(t, "image", "big.png", "image/png", testsupport.Payload(128))
	rec = h.upload(t, body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("too large: %d %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodPost, "/api/upload", `{}`)
	if rec.Code != http.StatusBadRequest || decode[api.ErrorResponse](t, rec).Error != "No file uploaded" {
		t.Fatalf("not multipart: %d %s", rec.Code, rec.Body.String())
	}
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string, []byte) (string, error) {
	return "", errors.New("bucket offline")
}

func TestUploadBackendFailure(t *testing.T) {
	falServer := testsupport.NewFalServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFalURL(falServer.URL))
	cfg.Server.Environment = "development"
	store := testsupport.MustOpenStore(t, cfg)
	svc := tryon.NewService(testsupport.NewFalClient(cfg), store, nil, nil)
	srv, err := server.New(cfg, svc, nil, nil, server.WithUploader(failingUploader{}))
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	body, ct := multipartBody(t, "image", "me.png", "image/png", testsupport.PNG(t))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[api.ErrorResponse](t, rec)
	if resp.Error != "Failed to upload image" || resp.Message != "bucket offline" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

type panickingUploader struct{}

func (panickingUploader) Upload(context.Context, string, []byte) (string, error) {
	panic("uploader exploded")
}

func TestRecovererReturnsJSON500(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		t.Run(env, func(t *testing.T) {
			falServer := testsupport.NewFalServer(t)
			cfg := testsupport.NewConfig(t, testsupport.WithFalURL(falServer.URL))
			cfg.Server.Environment = env
			store := testsupport.MustOpenStore(t, cfg)
			svc := tryon.NewService(testsupport.NewFalClient(cfg), store, nil, nil)
			srv, err := server.New(cfg, svc, nil, nil, server.WithUploader(panickingUploader{}))
			if err != nil {
				t.Fatalf("server.New failed: %v", err)
			}
			body, ct := multipartBody(t, "image", "me.png", "image/png", testsupport.PNG(t))
			req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
				t.Fatalf("Content-Type = %q", got)
			}
			resp := decode[api.ErrorResponse](t, rec)
			if resp.Success || resp.Error != "Internal server error" {
				t.Fatalf("unexpected response %+v", resp)
			}
			if env == "development" && !strings.Contains(resp.Message, "uploader exploded") {
				t.Fatalf("expected panic detail in development, got %q", resp.Message)
			}
			if env == "production" && resp.Message != "" {
				t.Fatalf("expected no detail in production, got %q", resp.Message)
			}
		})
	}
}

func TestTryOnRejectsOverlappingRequestFromSameClient(t *testing.T) {
	h := newHarness(t)
	started, release := h.fal.HoldRuns()
	defer release()

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- h.do(t, http.MethodPost, "/api/try-on", validBody, "X-Client-ID", "client-a")
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first try-on never reached the model")
	}

	rec := h.do(t, http.MethodPost, "/api/try-on", validBody, "X-Client-ID", "client-a")
	if rec.Code != http.StatusConflict {
		t.Fatalf("overlapping try-on status = %d body=%s", rec.Code, rec.Body.String())
	}
	if resp := decode[api.ErrorResponse](t, rec); resp.Error != jobs.ErrInFlight.Error() {
		t.Fatalf("unexpected response %+v", resp)
	}
	rec = h.do(t, http.MethodPost, "/api/jobs", validBody, "X-Client-ID", "client-a")
	if rec.Code != http.StatusConflict {
		t.Fatalf("queued request during sync try-on status = %d", rec.Code)
	}

	release()
	select {
	case rec = <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("first try-on did not finish")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("first try-on status = %d body=%s", rec.Code, rec.Body.String())
	}
	if runs, _, _ := h.fal.Counts(); runs != 1 {
		t.Fatalf("expected one model run, got %d", runs)
	}

	rec = h.do(t, http.MethodPost, "/api/try-on", validBody, "X-Client-ID", "client-a")
	if rec.Code != http.StatusOK {
		t.Fatalf("try-on after release status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestJobsLifecycle(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/jobs", validBody, "X-Client-ID", "client-a")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	job := decode[api.JobResponse](t, rec).Job
	if job.Status != "pending" || job.ClientID != "client-a" {
		t.Fatalf("unexpected job %+v", job)
	}
	if loc := rec.Header().Get("Location"); !strings.HasSuffix(loc, "/api/jobs/1") {
		t.Fatalf("Location = %q", loc)
	}

	rec = h.do(t, http.MethodPost, "/api/jobs", validBody, "X-Client-ID", "client-a")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second enqueue status = %d", rec.Code)
	}
	if msg := decode[api.ErrorResponse](t, rec).Error; msg != jobs.ErrInFlight.Error() {
		t.Fatalf("conflict message = %q", msg)
	}

	rec = h.do(t, http.MethodGet, "/api/jobs", nil, "X-Client-ID", "client-a")
	if list := decode[api.JobListResponse](t, rec); len(list.Jobs) != 1 {
		t.Fatalf("unexpected list %+v", list)
	}
	rec = h.do(t, http.MethodGet, "/api/jobs?clientId=someone-else", nil)
	if list := decode[api.JobListResponse](t, rec); len(list.Jobs) != 0 {
		t.Fatalf("expected no jobs for other client, got %+v", list)
	}
	rec = h.do(t, http.MethodGet, "/api/jobs?status=pending", nil)
	if list := decode[api.JobListResponse](t, rec); len(list.Jobs) != 1 {
		t.Fatalf("unexpected filtered list %+v", list)
	}
	rec = h.do(t, http.MethodGet, "/api/jobs?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus status filter = %d", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/api/jobs/1/retry", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("retry pending status = %d", rec.Code)
	}
	rec = h.do(t, http.MethodPost, "/api/jobs/1/cancel", nil)
	if rec.Code != http.StatusOK || decode[api.JobResponse](t, rec).Job.Status != "canceled" {
		t.Fatalf("cancel = %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodPost, "/api/jobs/1/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel status = %d", rec.Code)
	}
	rec = h.do(t, http.MethodPost, "/api/jobs/1/retry", nil)
	if rec.Code != http.StatusOK || decode[api.JobResponse](t, rec).Job.Status != "pending" {
		t.Fatalf("retry = %d %s", rec.Code, rec.Body.String())
	}

	if rec = h.do(t, http.MethodGet, "/api/jobs/99", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", rec.Code)
	}
	if rec = h.do(t, http.MethodGet, "/api/jobs/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
}

func TestEnqueueAcceptsDataURLs(t *testing.T) {
	h := newHarness(t)
	body := map[string]string{
		"personImageUrl":  "data:image/png;base64,iVBORw0KGgo=",
		"garmentImageUrl": "https://images.example/garment.jpg",
	}
	if rec := h.do(t, http.MethodPost, "/api/jobs", body); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := h.do(t, http.MethodPost, "/api/try-on", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("sync path accepted data url: %d", rec.Code)
	}
}

func TestHistoryFavoritesAndDelete(t *testing.T) {
	h := newHarness(t)
	var ids []string
	for range 2 {
		rec := h.do(t, http.MethodPost, "/api/try-on", validBody)
		ids = append(ids, decode[api.TryOnResponse](t, rec).HistoryID)
	}

	rec := h.do(t, http.MethodPut, "/api/history/"+ids[0]+"/favorite", map[string]bool{"isFavorite": true})
	if rec.Code != http.StatusOK || !decode[api.HistoryItemResponse](t, rec).Result.IsFavorite {
		t.Fatalf("favorite = %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodGet, "/api/favorites", nil)
	if favs := decode[api.HistoryListResponse](t, rec); len(favs.Results) != 1 || favs.Results[0].ID != ids[0] {
		t.Fatalf("favorites = %+v", favs)
	}
	rec = h.do(t, http.MethodGet, "/api/favorites?refresh=true", nil)
	if favs := decode[api.HistoryListResponse](t, rec); len(favs.Results) != 1 {
		t.Fatalf("refreshed favorites = %+v", favs)
	}

	rec = h.do(t, http.MethodGet, "/api/history/"+ids[1], nil)
	if rec.Code != http.StatusOK || decode[api.HistoryItemResponse](t, rec).Result.ID != ids[1] {
		t.Fatalf("get = %d %s", rec.Code, rec.Body.String())
	}

	if rec = h.do(t, http.MethodDelete, "/api/history/"+ids[1], nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec = h.do(t, http.MethodGet, "/api/history/"+ids[1], nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted = %d", rec.Code)
	}
	if rec = h.do(t, http.MethodPut, "/api/history/missing/favorite", map[string]bool{"isFavorite": true}); rec.Code != http.StatusNotFound {
		t.Fatalf("favorite missing = %d", rec.Code)
	}

	rec = h.do(t, http.MethodPut, "/api/history/"+ids[0]+"/favorite", map[string]any{})
	if rec.Code != http.StatusBadRequest || decode[api.ErrorResponse](t, rec).Error != "isFavorite is required" {
		t.Fatalf("favorite without field = %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodGet, "/api/history/"+ids[0], nil)
	if !decode[api.HistoryItemResponse](t, rec).Result.IsFavorite {
		t.Fatal("empty favorite body cleared the flag")
	}

	if rec = h.do(t, http.MethodDelete, "/api/history", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("clear = %d", rec.Code)
	}
	if list := decode[api.HistoryListResponse](t, h.do(t, http.MethodGet, "/api/history?refresh=1", nil)); len(list.Results) != 0 {
		t.Fatalf("history after clear = %+v", list)
	}
}

func TestAuthRequiredWhenTokenSet(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Server.APIToken = "secret" })

	if rec := h.do(t, http.MethodGet, "/api/jobs", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/api/jobs", nil, "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/api/jobs", nil, "Authorization", "Bearer secret"); rec.Code != http.StatusOK {
		t.Fatalf("good token = %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/api/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("health should stay open, got %d", rec.Code)
	}
}

func TestRateLimitPerIP(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.RateLimit.MaxRequests = 2 })
	for i := range 2 {
		if rec := h.do(t, http.MethodGet, "/api/health", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	rec := h.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d", rec.Code)
	}
	if msg := decode[api.ErrorResponse](t, rec).Error; msg != server.MessageRateLimited {
		t.Fatalf("message = %q", msg)
	}
	if rec := h.do(t, http.MethodGet, "/api/health", nil, "X-Real-IP", "203.0.113.9"); rec.Code != http.StatusOK {
		t.Fatalf("other IP limited: %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/", nil); rec.Code != http.StatusOK {
		t.Fatalf("root should not be limited, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Server.CORSOrigin = "https://app.example" })
	req := httptest.NewRequest(http.MethodOptions, "/api/try-on", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Client-ID")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q (status %d)", got, rec.Code)
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode[api.ErrorResponse](t, rec); resp.Success || resp.Error != "Not found" {
		t.Fatalf("unexpected %+v", resp)
	}
}

type staticStatus struct{ summary workflow.StatusSummary }

func (s staticStatus) Status(context.Context) workflow.StatusSummary { return s.summary }

func TestStatusEndpoint(t *testing.T) {
	falServer := testsupport.NewFalServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFalURL(falServer.URL))
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewJob(t, store, "client-a")
	svc := tryon.NewService(testsupport.NewFalClient(cfg), store, nil, nil)

	srv, err := server.New(cfg, svc, nil, nil)
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	resp := decode[api.StatusResponse](t, rec)
	if resp.Running || resp.JobStats["pending"] != 1 {
		t.Fatalf("unexpected status without dispatcher %+v", resp)
	}

	status := staticStatus{summary: workflow.StatusSummary{Running: true, Workers: 3, FalReady: true}}
	srv, err = server.New(cfg, svc, status, nil)
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	resp = decode[api.StatusResponse](t, rec)
	if !resp.Running || resp.Workers != 3 || !resp.Fal.Ready {
		t.Fatalf("unexpected status %+v", resp)
	}
}

func TestStartServesAndStops(t *testing.T) {
	falServer := testsupport.NewFalServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFalURL(falServer.URL))
	store := testsupport.MustOpenStore(t, cfg)
	svc := tryon.NewService(testsupport.NewFalClient(cfg), store, nil, nil)
	srv, err := server.New(cfg, svc, nil, nil)
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := srv.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + srv.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	srv.Stop()
	if srv.Addr() != "" {
		t.Fatal("expected Addr to be empty after Stop")
	}
}
