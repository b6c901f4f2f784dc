// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	service "github.com/okian/fundus/internal/app"
	"github.com/okian/fundus/internal/domain/inference"
	"github.com/okian/fundus/internal/domain/modelstore"
	"github.com/okian/fundus/internal/domain/pixels"
	"github.com/okian/fundus/internal/domain/variant"
	"github.com/okian/fundus/pkg/logger"
)

// Multipart form constants.
const (
	imageField          = "image"
	multipartOverhead   = 64 << 10
	multipartMemoryHint = 32 << 20
)

// Analyzer runs an uploaded image through the model.
type Analyzer interface {
	Analyze(ctx context.Context, r io.Reader) (variant.Result, error)
	Variant() variant.Variant
}

// AnalyzeHandler handles image analysis requests.
type AnalyzeHandler struct {
	analyzer Analyzer
	maxBytes int64
	logger   logger.Logger
}

// NewAnalyzeHandler creates a new analyze handler.
func NewAnalyzeHandler(analyzer Analyzer, maxBytes int64, l logger.Logger) *AnalyzeHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &AnalyzeHandler{analyzer: analyzer, maxBytes: maxBytes, logger: l}
}

type analyzeResponse struct {
	Variant string `json:"variant"`
	Banner  string `json:"banner,omitempty"`
	variant.Result
}

// HandleAnalyze handles POST /api/v1/analyze with a multipart "image" field.
func (h *AnalyzeHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	const op = "api.analyze"
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", NewKind(op, ErrMethodNotAllowed))
		return
	}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	}
	file, _, err := r.FormFile(imageField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", WrapKind(op, ErrPayloadTooLarge, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	defer func() { _ = file.Close() }()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	res, err := h.analyzer.Analyze(r.Context(), file)
	if err != nil {
		h.writeAnalyzeError(r.Context(), w, err)
		return
	}

	v := h.analyzer.Variant()
	writeJSON(w, http.StatusOK, analyzeResponse{
		Variant: v.Name,
		Banner:  v.Texts.SuccessBanner,
		Result:  res,
	})
}

// writeAnalyzeError maps pipeline failures onto status codes. Only the
// model load message is echoed verbatim; other texts are fixed.
func (h *AnalyzeHandler) writeAnalyzeError(ctx context.Context, w http.ResponseWriter, err error) {
	v := h.analyzer.Variant()
	switch {
	case errors.Is(err, modelstore.ErrModelLoad):
		var le *modelstore.LoadError
		msg := err.Error()
		if errors.As(err, &le) {
			msg = le.Message
		}
		writeErrorMessage(w, http.StatusServiceUnavailable, "model_unavailable", msg)
	case errors.Is(err, service.ErrNotStarted):
		writeErrorMessage(w, http.StatusServiceUnavailable, "model_unavailable", err.Error())
	case errors.Is(err, service.ErrBusy):
		w.Header().Set("Retry-After", "1")
		writeErrorMessage(w, http.StatusServiceUnavailable, "busy", "The service is busy. Please try again shortly.")
	case errors.Is(err, service.ErrUploadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", err)
	case errors.Is(err, pixels.ErrUnsupportedFormat):
		writeErrorMessage(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Only JPEG and PNG images are accepted.")
	case errors.Is(err, inference.ErrPreprocessing):
		writeErrorMessage(w, http.StatusUnprocessableEntity, "preprocessing_error", v.Texts.ProcessError)
	default:
		h.logger.Error(ctx, "inference failed", logger.Error(err))
		writeErrorMessage(w, http.StatusInternalServerError, "inference_error", "Prediction failed.")
	}
}
