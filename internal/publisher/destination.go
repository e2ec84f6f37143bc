package publisher

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Destination stores a rendered document and returns a reference to it.
// Publisher calls Write at most once per job lease; a retry after a failed
// write may repeat it, so object keys are deterministic per job.
type Destination interface {
	Write(ctx context.Context, doc Document) (string, error)
}

// ObjectWriter puts objects into a bucket
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	Ref(prefix string) string
}

// Supported object formats
const (
	FormatJSON = "json"
	FormatText = "txt"
	FormatXLSX = "xlsx"
)

// ObjectDestination writes each format under <prefix>/<job_id>/transcript.<ext>.
type ObjectDestination struct {
	writer  ObjectWriter
	prefix  string
	formats []string
}

// NewObjectDestination creates an ObjectDestination; no formats means all of them
func NewObjectDestination(writer ObjectWriter, prefix string, formats []string) *ObjectDestination {
	if len(formats) == 0 {
		formats = []string{FormatJSON, FormatText, FormatXLSX}
	}
	normalized := make([]string, 0, len(formats))
	for _, f := range formats {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(f)))
	}
	return &ObjectDestination{
		writer:  writer,
		prefix:  strings.Trim(prefix, "/"),
		formats: normalized,
	}
}

func (d *ObjectDestination) Write(ctx context.Context, doc Document) (string, error) {
	dir := path.Join(d.prefix, doc.JobID) + "/"

	for _, format := range d.formats {
		body, contentType, err := render(doc, format)
		if err != nil {
			return "", err
		}
		key := dir + "transcript." + format
		if err := d.writer.PutObject(ctx, key, body, contentType); err != nil {
			return "", err
		}
	}
	return d.writer.Ref(dir), nil
}

func render(doc Document, format string) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		b, err := doc.JSON()
		return b, "application/json", err
	case FormatText:
		return doc.Text(), "text/plain; charset=utf-8", nil
	case FormatXLSX:
		b, err := doc.XLSX()
		return b, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", err
	default:
		return nil, "", fmt.Errorf("unsupported format %q", format)
	}
}

// MessageSender writes keyed messages to a topic
type MessageSender interface {
	Send(ctx context.Context, key string, value []byte, headers map[string]string) error
	Topic() string
}

// StreamDestination emits the document as one JSON message keyed by job id.
type StreamDestination struct {
	sender MessageSender
}

// NewStreamDestination creates a StreamDestination
func NewStreamDestination(sender MessageSender) *StreamDestination {
	return &StreamDestination{sender: sender}
}

func (d *StreamDestination) Write(ctx context.Context, doc Document) (string, error) {
	body, err := doc.JSON()
	if err != nil {
		return "", err
	}
	headers := map[string]string{
		"content-type": "application/json",
		"job-id":       doc.JobID,
	}
	if err := d.sender.Send(ctx, doc.JobID, body, headers); err != nil {
		return "", err
	}
	return fmt.Sprintf("kafka://%s/%s", d.sender.Topic(), doc.JobID), nil
}
