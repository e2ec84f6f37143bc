package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/cuongbtq/transcript-relay/internal/domain"
	"github.com/cuongbtq/transcript-relay/internal/transcript"
)

const sheetName = "Transcript"

// Document is a transcript ready to be written to a destination.
type Document struct {
	JobID       string             `json:"job_id"`
	Title       string             `json:"title"`
	Source      domain.SourceRef   `json:"source"`
	Requester   string             `json:"requester"`
	PublishedAt time.Time          `json:"published_at"`
	Transcript  *domain.Transcript `json:"transcript"`
}

// NewDocument builds the document for job's transcript.
func NewDocument(job *domain.Job, t *domain.Transcript, at time.Time) Document {
	return Document{
		JobID:       job.JobID,
		Title:       Title(job.Source, t.Diarized, at),
		Source:      job.Source,
		Requester:   job.Requester,
		PublishedAt: at,
		Transcript:  t,
	}
}

// Title renders "<file> - <YYYY-MM-DD HH:MM> - With Speaker Labels".
func Title(source domain.SourceRef, diarized bool, at time.Time) string {
	name := source.FileName()
	if name == "" {
		name = "transcript"
	}
	labels := "No Speaker Labels"
	if diarized {
		labels = "With Speaker Labels"
	}
	return fmt.Sprintf("%s - %s - %s", name, at.Format("2006-01-02 15:04"), labels)
}

// JSON renders the document as indented JSON
func (d Document) JSON() ([]byte, error) {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return b, nil
}

// Text renders the title followed by one "[HH:MM:SS] Speaker A: text" line per utterance.
func (d Document) Text() []byte {
	var b strings.Builder
	b.WriteString(d.Title)
	b.WriteString("\n\n")

	if d.Transcript == nil || d.Transcript.IsEmpty() {
		b.WriteString("(no speech detected)\n")
		return []byte(b.String())
	}

	for _, u := range d.Transcript.Utterances {
		fmt.Fprintf(&b, "[%s] %s: %s\n", Timestamp(u.StartMS), transcript.SpeakerName(u.Speaker), u.Text)
	}
	return []byte(b.String())
}

// XLSX renders one row per utterance
func (d Document) XLSX() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	headers := []string{"Start", "End", "Speaker", "Text"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	if d.Transcript != nil {
		for i, u := range d.Transcript.Utterances {
			row := i + 2
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(sheetName, cell, v)
			}
			write(1, Timestamp(u.StartMS))
			write(2, Timestamp(u.EndMS))
			write(3, transcript.SpeakerName(u.Speaker))
			write(4, u.Text)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "B", 10)
	_ = f.SetColWidth(sheetName, "C", "C", 18)
	_ = f.SetColWidth(sheetName, "D", "D", 100)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// Timestamp formats milliseconds as HH:MM:SS
func Timestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	s := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
