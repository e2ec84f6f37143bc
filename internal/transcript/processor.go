// Package transcript parses provider callbacks and normalizes their transcripts.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cuongbtq/transcript-relay/internal/domain"
)

// payload is the provider's webhook body
type payload struct {
	TranscriptID string `json:"transcript_id"`
	ID           string `json:"id"`
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	body
	Payload *body `json:"payload"`
}

type body struct {
	Text          *string        `json:"text"`
	Error         *string        `json:"error"`
	AudioDuration *float64       `json:"audio_duration"`
	Utterances    []rawUtterance `json:"utterances"`
}

type rawUtterance struct {
	Speaker    json.RawMessage `json:"speaker"`
	Start      float64         `json:"start"`
	End        float64         `json:"end"`
	Text       *string         `json:"text"`
	Confidence *float64        `json:"confidence"`
}

func (p *payload) jobID() string {
	switch {
	case p.TranscriptID != "":
		return p.TranscriptID
	case p.ID != "":
		return p.ID
	default:
		return p.JobID
	}
}

func decode(raw []byte) (*payload, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	p.merge()
	return &p, nil
}

// merge fills top-level transcript fields from the nested payload object.
func (p *payload) merge() {
	if p.Payload == nil {
		return
	}
	if p.Text == nil {
		p.Text = p.Payload.Text
	}
	if p.Error == nil {
		p.Error = p.Payload.Error
	}
	if p.AudioDuration == nil {
		p.AudioDuration = p.Payload.AudioDuration
	}
	if p.Utterances == nil {
		p.Utterances = p.Payload.Utterances
	}
}

// ParseEvent validates a callback body and extracts the fields needed to reconcile it.
func ParseEvent(raw []byte, signature string) (domain.CallbackEvent, error) {
	p, err := decode(raw)
	if err != nil {
		return domain.CallbackEvent{}, err
	}

	status, err := domain.ParseCallbackStatus(p.Status)
	if err != nil {
		return domain.CallbackEvent{JobID: p.jobID()}, err
	}

	event := domain.CallbackEvent{
		JobID:      p.jobID(),
		Status:     status,
		RawPayload: raw,
		Signature:  signature,
	}
	if p.Error != nil {
		event.Error = *p.Error
	}
	if status == domain.CallbackFailed && event.Error == "" {
		event.Error = "provider reported failure without detail"
	}
	return event, nil
}

// Process normalizes a completed callback body into a Transcript.
// Utterances are ordered by start time and none are dropped. Empty output is not an error.
func Process(raw []byte) (*domain.Transcript, error) {
	p, err := decode(raw)
	if err != nil {
		return nil, err
	}

	t := &domain.Transcript{
		JobID:      p.jobID(),
		Utterances: []domain.Utterance{},
	}
	if p.AudioDuration != nil {
		t.DurationMS = secondsToMS(*p.AudioDuration)
	}

	for i, u := range p.Utterances {
		speaker, err := speakerLabel(u.Speaker)
		if err != nil {
			return nil, fmt.Errorf("%w: utterance %d: %v", domain.ErrInvalidPayload, i, err)
		}
		text := ""
		if u.Text != nil {
			text = strings.TrimSpace(*u.Text)
		}
		t.Utterances = append(t.Utterances, domain.Utterance{
			Speaker: speaker,
			StartMS: int64(math.Round(u.Start)),
			EndMS:   int64(math.Round(u.End)),
			Text:    text,
		})
	}
	sort.SliceStable(t.Utterances, func(i, j int) bool {
		return t.Utterances[i].StartMS < t.Utterances[j].StartMS
	})

	if p.Text != nil {
		t.FullText = strings.TrimSpace(*p.Text)
	}
	if t.FullText == "" && len(t.Utterances) > 0 {
		parts := make([]string, 0, len(t.Utterances))
		for _, u := range t.Utterances {
			if u.Text != "" {
				parts = append(parts, u.Text)
			}
		}
		t.FullText = strings.Join(parts, " ")
	}

	t.Diarized = len(t.Utterances) > 0
	if !t.Diarized && t.FullText != "" {
		t.Utterances = append(t.Utterances, domain.Utterance{
			Speaker: domain.UnknownSpeaker,
			StartMS: 0,
			EndMS:   t.DurationMS,
			Text:    t.FullText,
		})
	}

	return t, nil
}

func secondsToMS(s float64) int64 {
	return int64(math.Round(s * 1000))
}

// speakerLabel accepts "A" style labels or 1-based integers, which map to letters.
func speakerLabel(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.UnknownSpeaker, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return domain.UnknownSpeaker, nil
		}
		return s, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || f != math.Trunc(f) {
		return "", fmt.Errorf("speaker must be a string or integer, got %s", raw)
	}
	n := int(f)
	if n >= 1 && n <= 26 {
		return string(rune('A' + n - 1)), nil
	}
	return strconv.Itoa(n), nil
}

// SpeakerName renders a stored label for documents.
func SpeakerName(label string) string {
	if label == "" || label == domain.UnknownSpeaker {
		return "Unknown speaker"
	}
	return "Speaker " + label
}
