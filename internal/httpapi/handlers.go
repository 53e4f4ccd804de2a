package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/talkinghead/internal/observe"
	"github.com/MrWong99/talkinghead/internal/orchestrator"
)

// errBodyTooLarge and errBadJSON classify decode failures.
var (
	errBodyTooLarge = errors.New("httpapi: request body too large")
	errBadJSON      = errors.New("httpapi: malformed JSON body")
)

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.voices.ListVoices(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("failed to fetch voices", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch voices")
		return
	}
	writeJSON(w, http.StatusOK, toVoiceDTOs(voices))
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if !s.decode(w, r, &req) {
		return
	}

	reply, err := s.conv.HandleText(r.Context(), orchestrator.TextRequest{
		Message: req.Message,
		Emotion: req.Emotion,
		VoiceID: s.voiceOr(req.VoiceID),
	})
	if err != nil {
		s.replyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReplyDTO(reply))
}

func (s *Server) handleSTS(w http.ResponseWriter, r *http.Request) {
	var req stsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Audio) == "" {
		writeError(w, http.StatusBadRequest, "No audio data provided")
		return
	}
	audio, err := decodeAudio(req.Audio)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid audio data")
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "No audio data provided")
		return
	}

	reply, err := s.conv.HandleAudio(r.Context(), orchestrator.AudioRequest{
		Audio:   audio,
		Emotion: req.Emotion,
		VoiceID: s.voiceOr(req.VoiceID),
	})
	if err != nil {
		s.replyError(w, r, err)
		return
	}
	dto := toReplyDTO(reply)
	dto.UserMessageText = &reply.Transcript
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toHistoryDTO(s.history.Snapshot()))
}

func (s *Server) voiceOr(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return s.defaultVoice
}

// decode reads a JSON body into dst under the body limit. On failure it
// writes the error response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeJSON(w, r, s.maxBody, dst)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
	default:
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
	}
	return false
}

// decodeJSON reads one JSON value into dst. An empty body leaves dst at its
// zero value, the same as "{}".
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return errors.Join(errBadJSON, err)
	}
	return nil
}

// replyError maps orchestrator errors to responses. Client mistakes are 400;
// everything else is logged and reported as 500.
func (s *Server) replyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNoVoice):
		writeError(w, http.StatusBadRequest, "No voice selected")
	case errors.Is(err, orchestrator.ErrNoAudio):
		writeError(w, http.StatusBadRequest, "No audio data provided")
	default:
		observe.Logger(r.Context()).Error("failed to answer request",
			"path", r.URL.Path,
			"err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeAudio decodes standard base64, with or without padding. A data URL
// prefix such as "data:audio/webm;base64," is stripped first.
func decodeAudio(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
