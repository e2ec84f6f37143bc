package submitter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cuongbtq/transcript-relay/internal/domain"
)

// Locator turns a stored object reference into a URL the provider can fetch.
type Locator interface {
	Locate(ctx context.Context, source domain.SourceRef) (string, error)
}

// Presigner issues time-limited read URLs for objects
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string) (string, error)
}

// PresignLocator exposes objects through presigned GET URLs. The container is the bucket.
type PresignLocator struct {
	presigner Presigner
}

// NewPresignLocator creates a PresignLocator
func NewPresignLocator(p Presigner) *PresignLocator {
	return &PresignLocator{presigner: p}
}

func (l *PresignLocator) Locate(ctx context.Context, source domain.SourceRef) (string, error) {
	u, err := l.presigner.PresignGet(ctx, source.Container, source.Path)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", source, err)
	}
	return u, nil
}

// StaticLocator joins the reference onto a public base URL.
type StaticLocator struct {
	base *url.URL
}

// NewStaticLocator creates a StaticLocator for baseURL
func NewStaticLocator(baseURL string) (*StaticLocator, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid source base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid source base url: %q", baseURL)
	}
	return &StaticLocator{base: u}, nil
}

func (l *StaticLocator) Locate(_ context.Context, source domain.SourceRef) (string, error) {
	segments := []string{}
	if source.Container != "" {
		segments = append(segments, source.Container)
	}
	for _, s := range strings.Split(strings.Trim(source.Path, "/"), "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return l.base.JoinPath(segments...).String(), nil
}
