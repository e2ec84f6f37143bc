package domain

// Utterance is one speaker-attributed span of speech.
type Utterance struct {
	Speaker string `json:"speaker"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// Transcript is the normalized provider output for a job.
type Transcript struct {
	JobID      string      `json:"job_id"`
	FullText   string      `json:"full_text"`
	Utterances []Utterance `json:"utterances"`
	DurationMS int64       `json:"duration_ms"`
	Diarized   bool        `json:"diarized"`
}

// IsEmpty reports whether the provider heard nothing.
func (t *Transcript) IsEmpty() bool {
	return t.FullText == "" && len(t.Utterances) == 0
}
