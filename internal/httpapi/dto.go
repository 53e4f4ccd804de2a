package httpapi

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/talkinghead/internal/orchestrator"
	"github.com/MrWong99/talkinghead/pkg/provider/tts"
	"github.com/MrWong99/talkinghead/pkg/types"
)

// nullJSON is the literal JSON null. A nil json.RawMessage with omitempty
// is dropped, so present-but-null fields carry this value instead.
var nullJSON = json.RawMessage("null")

// --- Requests ---

type ttsRequest struct {
	Message string `json:"message"`
	Emotion string `json:"emotion"`
	VoiceID string `json:"voiceId"`
}

type stsRequest struct {
	Audio   string `json:"audio"`
	Emotion string `json:"emotion"`
	VoiceID string `json:"voiceId"`
}

// --- Responses ---

// segmentDTO is a spoken segment on the wire. Audio is base64 through the
// default []byte encoding.
type segmentDTO struct {
	Text    string          `json:"text"`
	Audio   []byte          `json:"audio"`
	Timing  json.RawMessage `json:"timing"`
	Emotion string          `json:"emotion,omitempty"`
}

// replyDTO serves both /tts and /sts. Analysis is omitted for canned replies
// and null when the Responder gave none.
type replyDTO struct {
	Messages        []segmentDTO    `json:"messages"`
	Analysis        json.RawMessage `json:"analysis,omitempty"`
	UserMessageText *string         `json:"userMessageText,omitempty"`
}

type voiceDTO struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Labels   map[string]string `json:"labels"`
}

type turnDTO struct {
	ID       string          `json:"id"`
	Type     types.TurnKind  `json:"type"`
	Text     string          `json:"text,omitempty"`
	Segments []segmentDTO    `json:"segments,omitempty"`
	Analysis json.RawMessage `json:"analysis"`
	Emotion  *string         `json:"emotion"`
	At       time.Time       `json:"at"`
}

type historyDTO struct {
	History []turnDTO `json:"history"`
}

type errorDTO struct {
	Error string `json:"error"`
}

// --- Conversions ---

func toSegmentDTOs(segs []types.SpokenSegment) []segmentDTO {
	out := make([]segmentDTO, len(segs))
	for i, s := range segs {
		timing := s.Timing
		if len(timing) == 0 {
			timing = nullJSON
		}
		out[i] = segmentDTO{
			Text:    s.Text,
			Audio:   s.Audio,
			Timing:  timing,
			Emotion: s.Emotion,
		}
	}
	return out
}

func toReplyDTO(r *orchestrator.Reply) replyDTO {
	dto := replyDTO{Messages: toSegmentDTOs(r.Segments)}
	if !r.Canned {
		dto.Analysis = r.Analysis
		if len(dto.Analysis) == 0 {
			dto.Analysis = nullJSON
		}
	}
	return dto
}

func toVoiceDTOs(voices []tts.VoiceProfile) []voiceDTO {
	out := make([]voiceDTO, len(voices))
	for i, v := range voices {
		labels := v.Metadata
		if labels == nil {
			labels = map[string]string{}
		}
		out[i] = voiceDTO{
			VoiceID:  v.ID,
			Name:     v.Name,
			Provider: v.Provider,
			Labels:   labels,
		}
	}
	return out
}

func toHistoryDTO(turns []types.Turn) historyDTO {
	out := historyDTO{History: make([]turnDTO, len(turns))}
	for i, t := range turns {
		dto := turnDTO{
			ID:       t.ID,
			Type:     t.Kind,
			Text:     t.Text,
			Analysis: t.Analysis,
			At:       t.At,
		}
		if len(t.Segments) > 0 {
			dto.Segments = toSegmentDTOs(t.Segments)
		}
		if t.Emotion != "" {
			e := t.Emotion
			dto.Emotion = &e
		}
		out.History[i] = dto
	}
	return out
}
