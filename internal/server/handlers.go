package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/MrWong99/voicemimic/internal/observe"
	"github.com/MrWong99/voicemimic/internal/voice"
	"github.com/MrWong99/voicemimic/internal/voicestore"
	"github.com/MrWong99/voicemimic/pkg/provider/tts"
)

// Match limits for /user-voice-match.
const (
	defaultMatchK = 3
	maxMatchK     = 20
)

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	Message        string              `json:"message"`
	UserID         string              `json:"userId"`
	VoiceProcessed bool                `json:"voice_processed"`
	Error          *voicestore.Failure `json:"error,omitempty"`
	SimilarVoice   *voicestore.Match   `json:"similar_voice,omitempty"`
}

// handleUpload handles POST /upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, messageResponse{
				Message: fmt.Sprintf("Upload exceeds the limit of %d bytes", tooLarge.Limit),
			})
		case errors.Is(err, http.ErrMissingFile) && r.MultipartForm != nil && len(r.MultipartForm.Value["audio"]) > 0:
			// A file part without a filename is parsed as a plain value.
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Empty filename"})
		default:
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: "No audio file uploaded"})
		}
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Empty filename"})
		return
	}

	userID := r.FormValue("userId")
	if userID == "" {
		userID = s.newID()
	}

	res, err := s.svc.Enroll(r.Context(), userID, header.Filename, file)
	if err != nil {
		observe.Logger(r.Context()).Error("enroll failed", "user_id", userID, "err", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error processing voice sample: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:        res.Message,
		UserID:         res.UserID,
		VoiceProcessed: res.Processed,
		Error:          res.Failure,
		SimilarVoice:   res.Similar,
	})
}

type synthesizeRequest struct {
	Text         string `json:"text"`
	UserID       string `json:"userId"`
	Voice        string `json:"voice"`
	UseUserVoice bool   `json:"use_user_voice"`
}

type synthesizeResponse struct {
	Message           string              `json:"message"`
	FileURL           string              `json:"file_url"`
	FileSize          int64               `json:"file_size"`
	DownloadURL       string              `json:"download_url"`
	UserVoiceApplied  bool                `json:"user_voice_applied"`
	AdaptationFailure *voicestore.Failure `json:"adaptation_failure,omitempty"`
	AdaptationSkipped string              `json:"adaptation_skipped,omitempty"`
	Engine            string              `json:"engine,omitempty"`
}

// handleSynthesize handles POST /synthesize.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body."})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "No text provided."})
		return
	}

	res, err := s.svc.Synthesize(r.Context(), voice.Request{
		Text:         req.Text,
		UserID:       req.UserID,
		Voice:        req.Voice,
		UseUserVoice: req.UseUserVoice,
	})
	if errors.Is(err, tts.ErrEmptyText) {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "No text provided."})
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Error("synthesis failed", "user_id", req.UserID, "err", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error synthesizing audio: " + err.Error()})
		return
	}

	fileURL := hostURL(r) + "/synthesized/" + res.FileName
	writeJSON(w, http.StatusOK, synthesizeResponse{
		Message:           "Audio synthesized successfully",
		FileURL:           fileURL,
		FileSize:          res.FileSize,
		DownloadURL:       fileURL + "?download=true",
		UserVoiceApplied:  res.UserVoiceApplied,
		AdaptationFailure: res.AdaptationFailure,
		AdaptationSkipped: string(res.AdaptationSkipped),
		Engine:            res.Engine,
	})
}

// handleSynthesized handles GET /synthesized/{filename}.
func (s *Server) handleSynthesized(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	path, err := s.svc.OutputPath(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "File not found"})
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "File not found"})
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "File not found"})
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health())
}

// handleDependencies handles GET /dependencies.
func (s *Server) handleDependencies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Dependencies())
}

type voicesResponse struct {
	Voices []voice.VoiceEntry `json:"voices"`
}

// handleVoices handles GET /voices.
func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.svc.Voices(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error getting voices: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, voicesResponse{Voices: voices})
}

type statusResponse struct {
	HasVoice        bool                `json:"has_voice"`
	Message         string              `json:"message"`
	FFmpegAvailable *bool               `json:"ffmpeg_available,omitempty"`
	Error           *voicestore.Failure `json:"error,omitempty"`
}

// handleUserVoiceStatus handles GET /user-voice-status.
func (s *Server) handleUserVoiceStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, statusResponse{Message: "No user ID provided"})
		return
	}
	st, err := s.svc.Status(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error getting voice status: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		HasVoice:        st.HasVoice,
		Message:         st.Message,
		FFmpegAvailable: &st.FFmpegAvailable,
		Error:           st.Failure,
	})
}

type deleteResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// handleDeleteUserVoice handles DELETE /user-voice.
func (s *Server) handleDeleteUserVoice(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "No user ID provided"})
		return
	}
	if err := s.svc.Delete(r.Context(), userID); err != nil {
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error deleting voice: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Message: "Voice sample deleted", UserID: userID})
}

type matchResponse struct {
	UserID  string             `json:"userId"`
	Matches []voicestore.Match `json:"matches"`
}

// handleUserVoiceMatch handles GET /user-voice-match.
func (s *Server) handleUserVoiceMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "No user ID provided"})
		return
	}
	k := defaultMatchK
	if raw := q.Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxMatchK {
			writeJSON(w, http.StatusBadRequest, messageResponse{
				Message: fmt.Sprintf("k must be an integer between 1 and %d", maxMatchK),
			})
			return
		}
		k = n
	}

	matches, err := s.svc.Match(r.Context(), userID, k)
	switch {
	case errors.Is(err, voicestore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, messageResponse{Message: "No voice sample found for this user"})
		return
	case errors.Is(err, voice.ErrNoEmbedding):
		writeJSON(w, http.StatusConflict, messageResponse{Message: "Voice sample has not been processed"})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error matching voices: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{UserID: userID, Matches: matches})
}

// hostURL reconstructs the externally visible base URL of r without a
// trailing slash.
func hostURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
