package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"

	"tryon/internal/api"
	"tryon/internal/jobs"
	"tryon/internal/logging"
	"tryon/internal/tryon"
)

const (
	messageUploadOK      = "Image uploaded successfully"
	messageNoFile        = "No file uploaded"
	messageInvalidType   = "Invalid file type. Only JPEG, PNG, and WebP are allowed."
	messageFileTooLarge  = "File too large"
	messageUploadFailed  = "Failed to upload image"
	messageInvalidBody   = "Invalid JSON body"
	messageBodyTooLarge  = "Request body too large"
	messageNoFavorite    = "isFavorite is required"
	uploadFormField      = "image"
	multipartMemoryLimit = 1 << 20
)

// tryOnBody is the JSON body of /api/try-on and /api/jobs.
type tryOnBody struct {
	PersonImageURL  string `json:"personImageUrl"`
	GarmentImageURL string `json:"garmentImageUrl"`
	GarmentType     string `json:"garmentType,omitempty"`
	Category        string `json:"category,omitempty"`
}

func (b tryOnBody) request() tryon.Request {
	return tryon.Request{
		PersonImageURL:  strings.TrimSpace(b.PersonImageURL),
		GarmentImageURL: strings.TrimSpace(b.GarmentImageURL),
		GarmentType:     strings.TrimSpace(b.GarmentType),
		Category:        strings.TrimSpace(b.Category),
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.ServerInfo{
		Message: "Virtual Try-On API Server",
		Version: Version,
		Endpoints: map[string]string{
			"health":    "/api/health",
			"tryOn":     "/api/try-on",
			"upload":    "/api/upload",
			"jobs":      "/api/jobs",
			"history":   "/api/history",
			"favorites": "/api/favorites",
			"status":    "/api/status",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	s.writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:    "ok",
		Timestamp: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Uptime:    now.Sub(s.started).Seconds(),
	})
}

func (s *Server) handleTryOn(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeTryOn(w, r)
	if !ok {
		return
	}
	resp, err := s.svc.Process(r.Context(), clientID(r), body.request())
	var validation *tryon.ValidationError
	switch {
	case errors.As(err, &validation):
		s.writeJSON(w, http.StatusBadRequest, api.NewError(validation.Message, ""))
	case errors.Is(err, jobs.ErrInFlight):
		s.writeJSON(w, http.StatusConflict, api.NewError(jobs.ErrInFlight.Error(), ""))
	case !resp.Success:
		s.writeJSON(w, http.StatusServiceUnavailable, api.FromResponse(resp))
	default:
		s.writeJSON(w, http.StatusOK, api.FromResponse(resp))
	}
}

// decodeTryOn parses the body and writes a 400 when it is not usable.
func (s *Server) decodeTryOn(w http.ResponseWriter, r *http.Request) (tryOnBody, bool) {
	var body tryOnBody
	err := json.NewDecoder(r.Body).Decode(&body)
	if err == nil {
		return body, true
	}
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		s.writeJSON(w, http.StatusBadRequest, api.NewError(typeErr.Field+" is required and must be a string", ""))
	case errors.As(err, &maxErr):
		s.writeJSON(w, http.StatusRequestEntityTooLarge, api.NewError(messageBodyTooLarge, ""))
	case errors.Is(err, io.EOF):
		// An empty body fails field validation like a body without fields.
		return body, true
	default:
		s.writeJSON(w, http.StatusBadRequest, api.NewError(messageInvalidBody, s.detail(err)))
	}
	return tryOnBody{}, false
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			s.writeJSON(w, http.StatusRequestEntityTooLarge, api.NewError(messageFileTooLarge, ""))
		case errors.Is(err, http.ErrNotMultipart):
			s.writeJSON(w, http.StatusBadRequest, api.NewError(messageNoFile, ""))
		default:
			s.writeError(w, r, http.StatusBadRequest, messageUploadFailed, err)
		}
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, api.NewError(messageNoFile, ""))
		return
	}
	defer file.Close()

	if maxSize > 0 && header.Size > maxSize {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, api.NewError(messageFileTooLarge, ""))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, messageUploadFailed, err)
		return
	}

	contentType := uploadContentType(header.Header.Get("Content-Type"), data)
	if !slices.Contains(s.cfg.Upload.AllowedTypes, contentType) {
		s.writeJSON(w, http.StatusBadRequest, api.NewError(messageInvalidType, ""))
		return
	}

	url, err := s.uploader.Upload(r.Context(), contentType, data)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, messageUploadFailed, err)
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("image uploaded",
		logging.String(logging.FieldEventType, "image_uploaded"),
		logging.String("content_type", contentType),
		logging.Int("bytes", len(data)),
	)
	s.writeJSON(w, http.StatusOK, api.UploadResponse{
		Success:  true,
		ImageURL: url,
		Message:  messageUploadOK,
	})
}

// uploadContentType prefers the declared part type and sniffs when it is absent.
func uploadContentType(declared string, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
		return strings.ToLower(mediaType)
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return sniffed
}
