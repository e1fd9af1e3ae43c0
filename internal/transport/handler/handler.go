package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Artemiy111/shop.biplane-design.com/internal/config"
	"github.com/Artemiy111/shop.biplane-design.com/internal/entities"
)

type UseCase interface {
	UploadImage(ctx context.Context, model entities.ModelRef, filename, mimeType string, data []byte) (entities.ModelImageView, error)
	UpdateImageOrder(ctx context.Context, modelID, imageID string, newOrder int) error
	DeleteImage(ctx context.Context, modelID, imageID string) error
	ReprocessImage(ctx context.Context, model entities.ModelRef, imageID string) error
	ListModelImages(ctx context.Context, modelID string) ([]entities.ModelImageView, error)
}

// EventSource is the completion-event bus side the SSE endpoint consumes.
type EventSource interface {
	Subscribe(ctx context.Context) <-chan entities.OptimizedEvent
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	useCase   UseCase
	events    EventSource
	db        Pinger
	cfg       *config.Config
	validator *validator.Validate
}

func New(useCase UseCase, events EventSource, db Pinger, cfg *config.Config) *Handler {
	return &Handler{
		useCase:   useCase,
		events:    events,
		db:        db,
		cfg:       cfg,
		validator: validator.New(),
	}
}

func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Upload.MaxRequestBodyMB<<20)

	maxMultipartMem := h.cfg.Upload.MaxMultipartMemoryMB
	if err := r.ParseMultipartForm(maxMultipartMem << 20); err != nil {
		writeMultipartError(w, err)
		return
	}

	file, fh, err := r.FormFile("image")
	if err != nil {
		if strings.Contains(err.Error(), "no such file") {
			writeJSONError(w, `missing image file: form field key should be "image"`, http.StatusBadRequest)
		} else {
			writeJSONError(w, "an error occurred while uploading the file: "+err.Error(), http.StatusBadRequest)
		}
		return
	}
	defer file.Close()

	params := UploadImageParams{
		ModelID: chi.URLParam(r, "modelID"),
		Slug:    r.Form.Get("slug"),
	}
	if err := h.validator.Struct(params); err != nil {
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return
	}

	mime, err := mimetype.DetectReader(file)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, ok := entities.UploadExt(mime.String()); !ok {
		writeJSONError(w, fmt.Sprintf("unsupported file type: %s", mime.String()), http.StatusBadRequest)
		return
	}

	if _, err := file.Seek(0, 0); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	model := entities.ModelRef{ID: params.ModelID, Slug: params.Slug}
	view, err := h.useCase.UploadImage(r.Context(), model, fh.Filename, mime.String(), data)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) UpdateImageOrder(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")
	imageID := chi.URLParam(r, "imageID")

	var params UpdateOrderParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSONError(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := h.validator.Struct(params); err != nil {
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return
	}

	if err := h.useCase.UpdateImageOrder(r.Context(), modelID, imageID, params.SortOrder); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")
	imageID := chi.URLParam(r, "imageID")

	if err := h.useCase.DeleteImage(r.Context(), modelID, imageID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReprocessImage(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")
	imageID := chi.URLParam(r, "imageID")

	var params ReprocessParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSONError(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := h.validator.Struct(params); err != nil {
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return
	}

	model := entities.ModelRef{ID: modelID, Slug: params.Slug}
	if err := h.useCase.ReprocessImage(r.Context(), model, imageID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) ListModelImages(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")

	views, err := h.useCase.ListModelImages(r.Context(), modelID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// ImageEvents streams optimization-completion events over SSE. The bus
// registration lives exactly as long as the request context: a client
// disconnect cancels it and the subscription channel is closed.
func (h *Handler) ImageEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.events.Subscribe(r.Context())
	for e := range events {
		raw, err := json.Marshal(e)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: optimized\ndata: %s\n\n", raw)
		flusher.Flush()
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSONError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
