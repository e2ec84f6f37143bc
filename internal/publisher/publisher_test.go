package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/transcript-relay/internal/domain"
	"github.com/cuongbtq/transcript-relay/internal/jobstore"
)

type fakeObjectWriter struct {
	mu      sync.Mutex
	objects map[string]string
	puts    int
	err     error
	delay   time.Duration
}

func newFakeObjectWriter() *fakeObjectWriter {
	return &fakeObjectWriter{objects: make(map[string]string)}
}

func (w *fakeObjectWriter) PutObject(_ context.Context, key string, _ []byte, contentType string) error {
	time.Sleep(w.delay)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.puts++
	if w.err != nil {
		return w.err
	}
	w.objects[key] = contentType
	return nil
}

func (w *fakeObjectWriter) Ref(prefix string) string {
	return "s3://transcripts/" + prefix
}

func (w *fakeObjectWriter) keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys := make([]string, 0, len(w.objects))
	for k := range w.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type fakeSender struct {
	mu      sync.Mutex
	key     string
	value   []byte
	headers map[string]string
	sends   int
	delay   time.Duration
	err     error
}

func (s *fakeSender) Send(_ context.Context, key string, value []byte, headers map[string]string) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.sends++
	s.key, s.value, s.headers = key, value, headers
	return nil
}

func (s *fakeSender) Topic() string { return "transcripts" }

func completedJob(t *testing.T, store jobstore.Store, jobID string) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Create(ctx, jobID, domain.SourceRef{Container: "audio", Path: "room12.wav"}, "staff-7")
	require.NoError(t, err)
	_, err = store.Transition(ctx, jobID, domain.StateCompleted, domain.TransitionFields{ResultPayload: []byte(`{}`)})
	require.NoError(t, err)
}

func newTestPublisher(store jobstore.Store, dest Destination) *Publisher {
	p := New(store, dest, slog.New(slog.DiscardHandler))
	p.now = func() time.Time { return publishedAt }
	return p
}

func TestPublish_ObjectDestination(t *testing.T) {
	store := jobstore.NewMemoryStore()
	completedJob(t, store, "abc123")
	writer := newFakeObjectWriter()
	p := newTestPublisher(store, NewObjectDestination(writer, "/out/", nil))

	ref, err := p.Publish(context.Background(), "abc123", sampleTranscript())
	require.NoError(t, err)
	assert.Equal(t, "s3://transcripts/out/abc123/", ref)

	assert.Equal(t, []string{
		"out/abc123/transcript.json",
		"out/abc123/transcript.txt",
		"out/abc123/transcript.xlsx",
	}, writer.keys())

	job, err := store.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePublished, job.State)
	assert.Equal(t, ref, job.PublishedRef)
	require.NotNil(t, job.PublishedAt)
	assert.True(t, job.PublishedAt.Equal(publishedAt))
}

func TestPublish_Idempotent(t *testing.T) {
	store := jobstore.NewMemoryStore()
	completedJob(t, store, "abc123")
	writer := newFakeObjectWriter()
	p := newTestPublisher(store, NewObjectDestination(writer, "out", []string{"txt"}))

	first, err := p.Publish(context.Background(), "abc123", sampleTranscript())
	require.NoError(t, err)
	second, err := p.Publish(context.Background(), "abc123", sampleTranscript())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, writer.puts)
}

func TestPublish_WriteFailureKeepsCompleted(t *testing.T) {
	store := jobstore.NewMemoryStore()
	completedJob(t, store, "abc123")
	writer := newFakeObjectWriter()
	writer.err = errors.New("access denied")
	p := newTestPublisher(store, NewObjectDestination(writer, "out", nil))

	_, err := p.Publish(context.Background(), "abc123", sampleTranscript())
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstream, domain.KindOf(err))

	job, err := store.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, job.State)
	assert.Empty(t, job.PublishedRef)
}

func TestPublish_Rejected(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	_, err := store.Create(ctx, "submitted", domain.SourceRef{Container: "audio", Path: "a.wav"}, "r")
	require.NoError(t, err)
	_, err = store.Create(ctx, "failed", domain.SourceRef{Container: "audio", Path: "b.wav"}, "r")
	require.NoError(t, err)
	_, err = store.Transition(ctx, "failed", domain.StateFailed, domain.TransitionFields{LastError: "boom"})
	require.NoError(t, err)

	writer := newFakeObjectWriter()
	p := newTestPublisher(store, NewObjectDestination(writer, "out", nil))

	tests := []struct {
		jobID   string
		wantErr error
	}{
		{jobID: "submitted", wantErr: domain.ErrInvalidTransition},
		{jobID: "failed", wantErr: domain.ErrInvalidTransition},
		{jobID: "missing", wantErr: domain.ErrJobNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.jobID, func(t *testing.T) {
			_, err := p.Publish(ctx, tt.jobID, sampleTranscript())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, writer.puts)
}

func TestPublish_StreamDestination(t *testing.T) {
	store := jobstore.NewMemoryStore()
	completedJob(t, store, "abc123")
	sender := &fakeSender{}
	p := newTestPublisher(store, NewStreamDestination(sender))

	ref, err := p.Publish(context.Background(), "abc123", sampleTranscript())
	require.NoError(t, err)
	assert.Equal(t, "kafka://transcripts/abc123", ref)
	assert.Equal(t, "abc123", sender.key)
	assert.Equal(t, "application/json", sender.headers["content-type"])
	assert.Contains(t, string(sender.value), `"title": "room12 - 2024-03-07 14:05 - With Speaker Labels"`)
}

func TestPublish_StreamFailure(t *testing.T) {
	store := jobstore.NewMemoryStore()
	completedJob(t, store, "abc123")
	p := newTestPublisher(store, NewStreamDestination(&fakeSender{err: errors.New("broker down")}))

	_, err := p.Publish(context.Background(), "abc123", sampleTranscript())
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestPublish_ConcurrentSingleWrite(t *testing.T) {
	store := jobstore.NewMemoryStore()
	completedJob(t, store, "abc123")
	writer := newFakeObjectWriter()
	writer.delay = 20 * time.Millisecond
	p := newTestPublisher(store, NewObjectDestination(writer, "out", []string{"json"}))

	var wg sync.WaitGroup
	refs := make([]string, 8)
	errs := make([]error, 8)
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			refs[i], errs[i] = p.Publish(context.Background(), "abc123", sampleTranscript())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrPublishInProgress)
			continue
		}
		assert.Equal(t, "s3://transcripts/out/abc123/", refs[i])
	}
	assert.Equal(t, 1, writer.puts)

	job, err := store.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePublished, job.State)
	assert.Empty(t, job.PublishOwner)
}

func TestPublish_ConcurrentStreamSendsOnce(t *testing.T) {
	store := jobstore.NewMemoryStore()
	completedJob(t, store, "abc123")
	sender := &fakeSender{delay: 20 * time.Millisecond}
	p := newTestPublisher(store, NewStreamDestination(sender))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Publish(context.Background(), "abc123", sampleTranscript())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sender.sends)
}

func TestPublish_LeaseHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	completedJob(t, store, "abc123")
	_, err := store.Claim(ctx, "abc123", "other-replica", time.Minute)
	require.NoError(t, err)

	writer := newFakeObjectWriter()
	p := newTestPublisher(store, NewObjectDestination(writer, "out", nil))

	_, err = p.Publish(ctx, "abc123", sampleTranscript())
	require.ErrorIs(t, err, domain.ErrPublishInProgress)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Zero(t, writer.puts)
}

func TestPublish_WriteFailureReleasesLease(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	completedJob(t, store, "abc123")
	before, err := store.Get(ctx, "abc123")
	require.NoError(t, err)

	writer := newFakeObjectWriter()
	writer.err = errors.New("throttled")
	p := newTestPublisher(store, NewObjectDestination(writer, "out", []string{"txt"}))

	_, err = p.Publish(ctx, "abc123", sampleTranscript())
	require.Error(t, err)

	job, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, job.State)
	assert.Empty(t, job.PublishOwner)
	assert.False(t, job.UpdatedAt.Before(before.UpdatedAt))

	writer.err = nil
	ref, err := p.Publish(ctx, "abc123", sampleTranscript())
	require.NoError(t, err)
	assert.Equal(t, "s3://transcripts/out/abc123/", ref)
}

func TestObjectDestination_UnknownFormat(t *testing.T) {
	d := NewObjectDestination(newFakeObjectWriter(), "out", []string{"docx"})
	_, err := d.Write(context.Background(), NewDocument(sampleJob(), sampleTranscript(), publishedAt))
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	_, err := store.Create(ctx, "abc123", domain.SourceRef{Container: "audio", Path: "room12.wav"}, "staff-7")
	require.NoError(t, err)

	payload := `{"job_id":"abc123","status":"completed","text":"hello there","audio_duration":2}`
	_, err = store.Transition(ctx, "abc123", domain.StateCompleted, domain.TransitionFields{ResultPayload: []byte(payload)})
	require.NoError(t, err)

	writer := newFakeObjectWriter()
	p := newTestPublisher(store, NewObjectDestination(writer, "out", []string{"txt"}))

	ref, err := p.Replay(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "s3://transcripts/out/abc123/", ref)
	assert.Equal(t, []string{"out/abc123/transcript.txt"}, writer.keys())

	again, err := p.Replay(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Equal(t, 1, writer.puts)
}

func TestReplay_Rejected(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	_, err := store.Create(ctx, "pending", domain.SourceRef{Container: "audio", Path: "a.wav"}, "r")
	require.NoError(t, err)
	_, err = store.Create(ctx, "empty", domain.SourceRef{Container: "audio", Path: "b.wav"}, "r")
	require.NoError(t, err)
	_, err = store.Transition(ctx, "empty", domain.StateCompleted, domain.TransitionFields{})
	require.NoError(t, err)

	p := newTestPublisher(store, NewObjectDestination(newFakeObjectWriter(), "out", nil))

	_, err = p.Replay(ctx, "pending")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = p.Replay(ctx, "empty")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = p.Replay(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
