package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/intelligrit/quakesafe/internal/model"
)

// chatHistoryLimit bounds how much prior conversation is sent to the assistant.
const chatHistoryLimit = 20

func (s *Server) handlePins(w http.ResponseWriter, r *http.Request) {
	images, err := s.Store.ReadImages(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pins := make([]model.PinRecord, 0, len(images))
	for _, img := range images {
		pins = append(pins, img.PinRecord())
	}
	writeJSON(w, pins)
}

func (s *Server) handleAssessments(w http.ResponseWriter, r *http.Request) {
	imageID := r.URL.Query().Get("image_id")
	if imageID == "" {
		writeError(w, http.StatusBadRequest, "image_id is required")
		return
	}

	assessments, err := s.Store.ReadAssessments(imageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if assessments == nil {
		assessments = []model.StoredAssessment{}
	}
	writeJSON(w, assessments)
}

func (s *Server) handleSafetyAssessment(w http.ResponseWriter, r *http.Request) {
	if status, err := s.parseUpload(w, r); err != nil {
		writeError(w, status, err.Error())
		return
	}

	lat, err := formCoordinate(r, "latitude", 90)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lon, err := formCoordinate(r, "longitude", 180)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	up, status, err := s.storeUpload(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	a, err := s.Analyzer.Assess(r.Context(), up.url)
	if err != nil {
		log.Error().Err(err).Str("key", up.key).Msg("Assessment failed")
		writeError(w, http.StatusBadGateway, fmt.Sprintf("assessing image: %v", err))
		return
	}

	res, err := s.Store.CreateImageWithAssessment(
		r.FormValue("user_id"), up.key, strings.TrimSpace(r.FormValue("label")), lat, lon, *a)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("image", res.Image.ID).
		Float64("score", res.Assessment.Score).
		Str("survivability", res.Assessment.SurvivabilityLabel).
		Msg("Image assessed")
	writeJSON(w, res)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if status, err := s.parseUpload(w, r); err != nil {
		writeError(w, status, err.Error())
		return
	}
	up, status, err := s.storeUpload(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	text, err := s.Analyzer.Analyze(r.Context(), up.url)
	if err != nil {
		log.Error().Err(err).Str("key", up.key).Msg("Analysis failed")
		writeError(w, http.StatusBadGateway, fmt.Sprintf("analyzing image: %v", err))
		return
	}
	writeJSON(w, map[string]string{"analysis": text})
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	history, err := s.Store.ReadChatMessages(req.UserID, chatHistoryLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	msg, err := s.Store.CreateChatMessage(req.UserID, req.Message, model.SenderUser)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	text, err := s.Analyzer.Reply(r.Context(), history, req.Message)
	if err != nil {
		log.Error().Err(err).Str("user", req.UserID).Msg("Chat reply failed")
		writeError(w, http.StatusBadGateway, fmt.Sprintf("getting reply: %v", err))
		return
	}

	reply, err := s.Store.CreateChatMessage(req.UserID, text, model.SenderAssistant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, model.ChatReply{Message: *msg, Reply: *reply})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.Store.ReadChatMessages(r.URL.Query().Get("user_id"), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	writeJSON(w, msgs)
}

type upload struct {
	key string
	url string
}

// parseUpload reads the multipart body, capped at MaxUploadBytes.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (int, error) {
	if s.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.MaxUploadBytes)
		}
		return http.StatusBadRequest, fmt.Errorf("invalid multipart form: %v", err)
	}
	return 0, nil
}

// storeUpload stores the parsed "file" part and presigns a download URL for
// it. The returned status is meaningful only when err is non-nil.
func (s *Server) storeUpload(r *http.Request) (upload, int, error) {
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return upload{}, http.StatusBadRequest, errors.New("file is required")
	}
	defer f.Close()

	ct := hdr.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/jpeg"
	}

	key, err := s.Objects.Put(r.Context(), f, hdr.Size, ct)
	if err != nil {
		log.Error().Err(err).Msg("Storing upload failed")
		return upload{}, http.StatusInternalServerError, fmt.Errorf("storing image: %v", err)
	}
	u, err := s.Objects.PresignGet(r.Context(), key, s.PresignExpiry)
	if err != nil {
		return upload{}, http.StatusInternalServerError, fmt.Errorf("presigning image: %v", err)
	}
	return upload{key: key, url: u}, 0, nil
}

// formCoordinate parses an optional coordinate field. Missing or blank
// values yield nil. NaN and infinities are rejected along with out-of-range
// values since they cannot be encoded as JSON.
func formCoordinate(r *http.Request, field string, limit float64) (*float64, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < -limit || v > limit {
		return nil, fmt.Errorf("invalid %s %q", field, raw)
	}
	return &v, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if v == nil {
		_, _ = w.Write([]byte("[]"))
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Encoding response failed")
		writeError(w, http.StatusInternalServerError, "encoding response: "+err.Error())
		return
	}
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
