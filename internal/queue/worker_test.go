package queue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Artemiy111/shop.biplane-design.com/internal/config"
	"github.com/Artemiy111/shop.biplane-design.com/internal/entities"
	"github.com/Artemiy111/shop.biplane-design.com/internal/processor"
)

// fakeStreams records the requeue/dead-letter/ack traffic in call order so
// tests can assert that nothing is acknowledged before it is durable.
type fakeStreams struct {
	mu        sync.Mutex
	calls     []string
	added     []redis.XAddArgs
	acked     []string
	addErrFor map[string]error // per-stream XAdd failure
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{addErrFor: map[string]error{}}
}

func (s *fakeStreams) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "xadd "+a.Stream)
	if err := s.addErrFor[a.Stream]; err != nil {
		return redis.NewStringResult("", err)
	}
	s.added = append(s.added, *a)
	return redis.NewStringResult("1-1", nil)
}

func (s *fakeStreams) XAck(_ context.Context, _, _ string, ids ...string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "xack")
	s.acked = append(s.acked, ids...)
	return redis.NewIntResult(1, nil)
}

type fakeMeta struct {
	mu        sync.Mutex
	rows      []entities.OptimizedImage
	insertErr error
}

func (m *fakeMeta) InsertOptimized(_ context.Context, renditions []entities.OptimizedImage) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, renditions...)
	return nil
}

type fakeBlobs struct {
	mu        sync.Mutex
	uploads   map[string]string // key -> content type
	uploadErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{uploads: make(map[string]string)}
}

func (b *fakeBlobs) Upload(_ context.Context, key, contentType string, _ []byte) error {
	if b.uploadErr != nil {
		return b.uploadErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads[key] = contentType
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []entities.OptimizedEvent
}

func (p *fakePublisher) Publish(e entities.OptimizedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func testJob(t *testing.T) OptimizeJob {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 1600, 800))
	for x := 0; x < 1600; x += 16 {
		img.Set(x, x/2, color.RGBA{R: 200, A: 255})
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))

	return OptimizeJob{
		Model:    entities.ModelRef{ID: "model-1", Slug: "lounge-chair"},
		ImageID:  "img-1",
		MimeType: "image/png",
		Buffer:   base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
}

func newTestWorker(meta MetaStore, blobs BlobStore, bus Publisher) (*Worker, *fakeStreams) {
	cfg := config.OptimizeWorkerConfig{
		Stream:      "test:optimize",
		Group:       "g",
		Consumer:    "c",
		Workers:     1,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	}
	w := NewWorker(nil, cfg, meta, blobs, bus)
	streams := newFakeStreams()
	w.streams = streams
	return w, streams
}

func streamMessage(t *testing.T, job OptimizeJob, attempt int) redis.XMessage {
	t.Helper()
	raw, err := json.Marshal(job)
	require.NoError(t, err)
	return redis.XMessage{ID: "1-0", Values: map[string]any{
		"payload": string(raw),
		"attempt": fmt.Sprintf("%d", attempt),
	}}
}

func TestProcessFullMatrix(t *testing.T) {
	meta := &fakeMeta{}
	blobs := newFakeBlobs()
	bus := &fakePublisher{}
	w, _ := newTestWorker(meta, blobs, bus)

	require.NoError(t, w.process(context.Background(), testJob(t)))

	wantCount := len(processor.Formats) * len(processor.Widths)
	require.Len(t, meta.rows, wantCount)
	for _, row := range meta.rows {
		assert.Equal(t, "img-1", row.ImageID)
		assert.NotEmpty(t, row.ID)
		assert.Positive(t, row.Size)
		assert.Contains(t, []string{"image/webp", "image/jpeg"}, row.MimeType)
	}

	require.Len(t, blobs.uploads, wantCount)
	for _, format := range processor.Formats {
		for _, width := range processor.Widths {
			key := entities.OptimizedObjectKey("img-1", width, format)
			assert.Equal(t, processor.FormatMime[format], blobs.uploads[key])
		}
	}

	require.Len(t, bus.events, 1)
	assert.Equal(t, "img-1", bus.events[0].ImageID)
	assert.Equal(t, "lounge-chair", bus.events[0].Model.Slug)
}

func TestProcessNoEventOnInsertFailure(t *testing.T) {
	meta := &fakeMeta{insertErr: fmt.Errorf("db down")}
	blobs := newFakeBlobs()
	bus := &fakePublisher{}
	w, _ := newTestWorker(meta, blobs, bus)

	err := w.process(context.Background(), testJob(t))
	require.Error(t, err)
	assert.Empty(t, bus.events)
	assert.Empty(t, blobs.uploads)
}

func TestProcessNoEventOnUploadFailure(t *testing.T) {
	meta := &fakeMeta{}
	blobs := newFakeBlobs()
	blobs.uploadErr = fmt.Errorf("s3 down")
	bus := &fakePublisher{}
	w, _ := newTestWorker(meta, blobs, bus)

	err := w.process(context.Background(), testJob(t))
	require.Error(t, err)
	assert.Empty(t, bus.events)
}

func TestProcessBadBuffer(t *testing.T) {
	w, _ := newTestWorker(&fakeMeta{}, newFakeBlobs(), &fakePublisher{})

	job := testJob(t)
	job.Buffer = "%%% not base64 %%%"
	err := w.process(context.Background(), job)
	assert.Error(t, err)
}

func TestProcessUndecodableImage(t *testing.T) {
	bus := &fakePublisher{}
	w, _ := newTestWorker(&fakeMeta{}, newFakeBlobs(), bus)

	job := testJob(t)
	job.Buffer = base64.StdEncoding.EncodeToString([]byte("junk"))
	err := w.process(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, entities.ErrUnsupportedFormat)
	assert.Empty(t, bus.events)
}

// fakeUniqueMeta mimics the unique (image_id, mime_type, width) index with
// ON CONFLICT DO NOTHING semantics: a re-inserted rendition keeps the row
// from the first delivery.
type fakeUniqueMeta struct {
	mu   sync.Mutex
	rows map[string]entities.OptimizedImage
}

func newFakeUniqueMeta() *fakeUniqueMeta {
	return &fakeUniqueMeta{rows: make(map[string]entities.OptimizedImage)}
}

func (m *fakeUniqueMeta) InsertOptimized(_ context.Context, renditions []entities.OptimizedImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range renditions {
		key := fmt.Sprintf("%s/%s/%d", r.ImageID, r.MimeType, r.Width)
		if _, exists := m.rows[key]; exists {
			continue
		}
		m.rows[key] = r
	}
	return nil
}

func blobKeys(b *fakeBlobs) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.uploads))
	for k := range b.uploads {
		keys = append(keys, k)
	}
	return keys
}

func TestProcessRedeliveryIsIdempotent(t *testing.T) {
	meta := newFakeUniqueMeta()
	blobs := newFakeBlobs()
	bus := &fakePublisher{}
	w, _ := newTestWorker(meta, blobs, bus)
	job := testJob(t)

	require.NoError(t, w.process(context.Background(), job))

	wantCount := len(processor.Formats) * len(processor.Widths)
	require.Len(t, meta.rows, wantCount)
	firstRows := make(map[string]string, wantCount)
	for key, r := range meta.rows {
		firstRows[key] = r.ID
	}
	firstKeys := blobKeys(blobs)
	require.Len(t, firstKeys, wantCount)

	// second delivery of the same job
	require.NoError(t, w.process(context.Background(), job))

	require.Len(t, meta.rows, wantCount)
	for key, r := range meta.rows {
		assert.Equal(t, firstRows[key], r.ID, "row %s replaced on redelivery", key)
	}
	assert.ElementsMatch(t, firstKeys, blobKeys(blobs))
}

func TestHandleAcksOnSuccess(t *testing.T) {
	w, streams := newTestWorker(&fakeMeta{}, newFakeBlobs(), &fakePublisher{})

	require.NoError(t, w.handle(context.Background(), streamMessage(t, testJob(t), 0)))

	assert.Equal(t, []string{"xack"}, streams.calls)
	assert.Equal(t, []string{"1-0"}, streams.acked)
}

func TestHandleRequeuesBeforeAck(t *testing.T) {
	meta := &fakeMeta{insertErr: fmt.Errorf("db down")}
	w, streams := newTestWorker(meta, newFakeBlobs(), &fakePublisher{})

	err := w.handle(context.Background(), streamMessage(t, testJob(t), 0))
	require.Error(t, err)

	require.Equal(t, []string{"xadd test:optimize", "xack"}, streams.calls)
	require.Len(t, streams.added, 1)
	values := streams.added[0].Values.(map[string]any)
	assert.Equal(t, 1, values["attempt"])
}

func TestHandleDeadLettersWhenRequeueFails(t *testing.T) {
	meta := &fakeMeta{insertErr: fmt.Errorf("db down")}
	w, streams := newTestWorker(meta, newFakeBlobs(), &fakePublisher{})
	streams.addErrFor["test:optimize"] = fmt.Errorf("redis down")

	_ = w.handle(context.Background(), streamMessage(t, testJob(t), 0))

	require.Equal(t, []string{"xadd test:optimize", "xadd test:optimize:dlq", "xack"}, streams.calls)
	require.Len(t, streams.added, 1)
	assert.Equal(t, "test:optimize:dlq", streams.added[0].Stream)
}

func TestHandleExhaustedAttemptsDeadLetter(t *testing.T) {
	meta := &fakeMeta{insertErr: fmt.Errorf("db down")}
	w, streams := newTestWorker(meta, newFakeBlobs(), &fakePublisher{})

	require.NoError(t, w.handle(context.Background(), streamMessage(t, testJob(t), w.cfg.MaxAttempts-1)))

	assert.Equal(t, []string{"xadd test:optimize:dlq", "xack"}, streams.calls)
}

func TestHandleShutdownLeavesMessagePending(t *testing.T) {
	meta := &fakeMeta{insertErr: fmt.Errorf("db down")}
	w, streams := newTestWorker(meta, newFakeBlobs(), &fakePublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = w.handle(ctx, streamMessage(t, testJob(t), 0))

	assert.Empty(t, streams.calls)
	assert.Empty(t, streams.acked)
}

func TestHandleMalformedPayloadDeadLetters(t *testing.T) {
	w, streams := newTestWorker(&fakeMeta{}, newFakeBlobs(), &fakePublisher{})

	m := redis.XMessage{ID: "1-0", Values: map[string]any{"payload": "{not json"}}
	require.NoError(t, w.handle(context.Background(), m))

	assert.Equal(t, []string{"xadd test:optimize:dlq", "xack"}, streams.calls)
}

func TestToInt(t *testing.T) {
	assert.Equal(t, 3, toInt(3))
	assert.Equal(t, 3, toInt(int64(3)))
	assert.Equal(t, 3, toInt("3"))
	assert.Equal(t, 0, toInt(nil))
	assert.Equal(t, 0, toInt("x"))
}
