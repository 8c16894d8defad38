package api

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/mindcare/ai/emotion"
	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/ai/recommend"
	"github.com/GoCodeAlone/mindcare/ai/risk"
	"github.com/GoCodeAlone/mindcare/scale"
)

const maxImageBytes = 10 << 20

// FacialHandler runs facial emotion detection and serves content
// recommendations.
type FacialHandler struct {
	detector *facial.Detector
	bulkhead *scale.Bulkhead
	logger   *slog.Logger
}

// NewFacialHandler creates a FacialHandler. A nil detector answers 503 on
// Analyze; a nil bulkhead leaves analyses uncapped.
func NewFacialHandler(detector *facial.Detector, bulkhead *scale.Bulkhead, logger *slog.Logger) *FacialHandler {
	return &FacialHandler{detector: detector, bulkhead: bulkhead, logger: logger}
}

// FacialRequest carries a base64 image, optionally as a data URL.
type FacialRequest struct {
	Image string `json:"image" jsonschema:"required,contentEncoding=base64"`
}

// FacialResponse is the detected emotion with matching content.
type FacialResponse struct {
	*facial.Emotion
	Recommendations []recommend.Recommendation `json:"recommendations"`
}

// Analyze handles POST /facial/analyze. The image is either a multipart
// "image" file or a JSON FacialRequest.
func (h *FacialHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if h.detector == nil {
		WriteError(w, http.StatusServiceUnavailable, "facial analysis is not configured")
		return
	}
	image, ok := readImage(w, r)
	if !ok {
		return
	}
	if h.bulkhead != nil {
		release, err := h.bulkhead.Acquire(r.Context(), scale.PoolFacial)
		if err != nil {
			writeServiceError(w, h.logger, "facial analyze", err)
			return
		}
		defer release()
	}

	em, err := h.detector.Detect(r.Context(), image)
	if err != nil {
		writeServiceError(w, h.logger, "facial analyze", err)
		return
	}
	recs := recommend.Content(em, nil, 0)
	if recs == nil {
		recs = []recommend.Recommendation{}
	}
	WriteJSON(w, http.StatusOK, FacialResponse{Emotion: em, Recommendations: recs})
}

func readImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "image file is required")
			return nil, false
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil || len(data) == 0 {
			WriteError(w, http.StatusBadRequest, "image file is unreadable")
			return nil, false
		}
		return data, true
	}

	var req FacialRequest
	if !decodeJSON(w, r, &req) {
		return nil, false
	}
	encoded := req.Image
	if i := strings.Index(encoded, ";base64,"); i >= 0 {
		encoded = encoded[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "image must be non-empty base64")
		return nil, false
	}
	return data, true
}

// Recommendations handles GET /recommendations?emotion=sad&mood=3&crisis=true
// &limit=8. Without an emotion it returns the neutral set.
func (h *FacialHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	label := strings.ToLower(strings.TrimSpace(q.Get("emotion")))
	if label == "" {
		label = "neutral"
	}
	face := &facial.Emotion{Emotion: label, Mood: facial.MoodFor(label)}
	if v := q.Get("mood"); v != "" {
		mood, err := strconv.Atoi(v)
		if err != nil || mood < 1 || mood > 10 {
			WriteError(w, http.StatusBadRequest, "mood must be between 1 and 10")
			return
		}
		face.Mood = mood
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	var textEmotion *emotion.Result
	if crisis, _ := strconv.ParseBool(q.Get("crisis")); crisis {
		textEmotion = &emotion.Result{Emotion: label, Risk: risk.High}
	}

	recs := recommend.Content(face, textEmotion, limit)
	WriteJSON(w, http.StatusOK, map[string]any{
		"emotion":         face.Emotion,
		"mood":            face.Mood,
		"recommendations": recs,
	})
}
