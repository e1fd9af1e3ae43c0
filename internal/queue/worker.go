package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Artemiy111/shop.biplane-design.com/internal/config"
	"github.com/Artemiy111/shop.biplane-design.com/internal/entities"
	"github.com/Artemiy111/shop.biplane-design.com/internal/processor"
)

// MetaStore persists rendition metadata. The insert must stay safe under
// redelivery of the same job.
type MetaStore interface {
	InsertOptimized(ctx context.Context, renditions []entities.OptimizedImage) error
}

// BlobStore uploads rendition binaries.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, payload []byte) error
}

// Publisher receives the completion event once a job fully succeeds.
type Publisher interface {
	Publish(e entities.OptimizedEvent)
}

// streamClient is the slice of the redis API the message lifecycle uses:
// requeue, dead-letter and acknowledge.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type Worker struct {
	rc      redis.UniversalClient
	streams streamClient
	cfg     config.OptimizeWorkerConfig
	meta    MetaStore
	blobs   BlobStore
	bus     Publisher
}

// Init starts the background worker and returns the producer for the same
// stream.
func Init(ctx context.Context, rc redis.UniversalClient, cfg config.OptimizeWorkerConfig, meta MetaStore, blobs BlobStore, bus Publisher) *Producer {
	producer := NewProducer(rc, cfg.Stream, cfg.MaxLen)
	worker := NewWorker(rc, cfg, meta, blobs, bus)

	go func() {
		if err := worker.Start(ctx); err != nil {
			log.Printf("[optimize-worker] stopped: %v", err)
		}
	}()

	return producer
}

func NewWorker(rc redis.UniversalClient, cfg config.OptimizeWorkerConfig, meta MetaStore, blobs BlobStore, bus Publisher) *Worker {
	return &Worker{
		rc:      rc,
		streams: rc,
		cfg:     cfg,
		meta:    meta,
		blobs:   blobs,
		bus:     bus,
	}
}

func (w *Worker) EnsureGroup(ctx context.Context) error {
	// Without MkStream, Redis would error out if you try to create a group before any messages exist in the stream.
	err := w.rc.XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	// Redis returns BUSYGROUP if the group already exists therefore we check for other errors
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (w *Worker) Start(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to ensure Redis group: %w", err)
	}

	log.Printf("[optimize-worker] starting consumer group=%s stream=%s workers=%d",
		w.cfg.Group, w.cfg.Stream, w.cfg.Workers,
	)

	// Adopt orphaned pending messages
	w.autoClaim(ctx)

	errCh := make(chan error, w.cfg.Workers)
	for i := 0; i < w.cfg.Workers; i++ {
		id := i
		go func() {
			log.Printf("[optimize-worker] worker #%d started", id)
			err := w.loop(ctx)
			if err != nil {
				log.Printf("[optimize-worker] worker #%d stopped with error: %v", id, err)
			} else {
				log.Printf("[optimize-worker] worker #%d stopped gracefully", id)
			}
			errCh <- err
		}()
	}

	select {
	case <-ctx.Done():
		log.Printf("[optimize-worker] context canceled, stopping all workers")
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker loop exited with error: %w", err)
		}
		return nil
	}
}

// autoClaim scans the consumer group for messages that were delivered to
// other consumers but never acknowledged (a worker crashed or was killed
// before XACK) and takes ownership of them so they get retried.
func (w *Worker) autoClaim(ctx context.Context) {
	next := "0-0"

	// A message must have been idle for a while before we reclaim it, so we
	// don't steal work still being processed by slow workers.
	minIdle := 30 * time.Second
	if w.cfg.BlockTimeout > 0 {
		t := w.cfg.BlockTimeout * 6
		if t > minIdle {
			minIdle = t
		}
	}

	for {
		msgs, start, err := w.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   w.cfg.Stream,
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			MinIdle:  minIdle,
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil || len(msgs) == 0 {
			return
		}
		next = start
	}
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		// XREADGROUP marks the returned messages pending for this consumer;
		// they stay in the group's PEL until we XACK in handle(). A crash
		// before XACK leaves them for autoClaim on the next start.
		streams, err := w.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			Streams:  []string{w.cfg.Stream, ">"},
			Count:    1,
			Block:    w.cfg.BlockTimeout,
		}).Result()
		if err != nil && err != redis.Nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				_ = w.handle(ctx, m)
			}
		}
	}
}

// handle runs one delivery. A message is acknowledged only after it has
// reached a durable terminal state: processed, requeued with attempt+1, or
// dead-lettered. Anything else leaves it pending for autoClaim, so a crash
// or shutdown mid-retry never loses the job.
func (w *Worker) handle(ctx context.Context, m redis.XMessage) error {
	raw, ok := m.Values["payload"].(string)
	if !ok {
		if w.deadLetter(ctx, "", fmt.Errorf("message %s has no payload", m.ID)) == nil {
			w.ack(ctx, m.ID)
		}
		return nil
	}
	var job OptimizeJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		if w.deadLetter(ctx, raw, fmt.Errorf("unmarshal job: %w", err)) == nil {
			w.ack(ctx, m.ID)
		}
		return nil
	}
	attempt := toInt(m.Values["attempt"])

	err := w.process(ctx, job)
	if err == nil {
		w.ack(ctx, m.ID)
		return nil
	}

	log.Printf("[optimize-worker] job for image %s failed (attempt %d): %v", job.ImageID, attempt+1, err)
	if attempt+1 >= w.cfg.MaxAttempts {
		if w.deadLetter(ctx, raw, err) == nil {
			w.ack(ctx, m.ID)
		}
		return nil
	}

	// exponential backoff before the requeue; shutdown during the wait
	// leaves the message pending
	backoff := w.cfg.BackoffBase << attempt
	t := time.NewTimer(backoff)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		return err
	}

	requeueErr := w.streams.XAdd(ctx, &redis.XAddArgs{
		Stream: w.cfg.Stream,
		MaxLen: w.cfg.MaxLen,
		Values: map[string]any{
			"payload": raw,
			"attempt": attempt + 1,
		},
	}).Err()
	if requeueErr != nil {
		log.Printf("[optimize-worker] failed to requeue job for image %s: %v", job.ImageID, requeueErr)
		if w.deadLetter(ctx, raw, fmt.Errorf("%v (requeue failed: %v)", err, requeueErr)) != nil {
			return err
		}
	}
	w.ack(ctx, m.ID)
	return err
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.streams.XAck(context.WithoutCancel(ctx), w.cfg.Stream, w.cfg.Group, id).Err(); err != nil {
		log.Printf("[optimize-worker] failed to ack %s: %v", id, err)
	}
}

// deadLetter parks an exhausted job for operator inspection. The image
// simply stays without renditions until someone reprocesses it. A non-nil
// return means the job is NOT parked and the caller must not acknowledge.
func (w *Worker) deadLetter(ctx context.Context, payload string, cause error) error {
	sentry.CaptureException(cause)
	log.Printf("[optimize-worker] dead-lettering job: %v", cause)

	err := w.streams.XAdd(ctx, &redis.XAddArgs{
		Stream: w.cfg.DLQ(),
		Values: map[string]any{
			"payload": payload,
			"error":   cause.Error(),
		},
	}).Err()
	if err != nil {
		log.Printf("[optimize-worker] failed to dead-letter job, leaving it pending: %v", err)
	}
	return err
}

// process derives the full rendition matrix, persists the metadata in one
// transaction, uploads the blobs and publishes the completion event. The
// event fires only when every step succeeded; any error propagates so the
// retry policy redelivers the job.
func (w *Worker) process(ctx context.Context, job OptimizeJob) error {
	data, err := base64.StdEncoding.DecodeString(job.Buffer)
	if err != nil {
		return fmt.Errorf("decode buffer for %s: %w", job.ImageID, err)
	}

	p, err := processor.Decode(data, job.MimeType)
	if err != nil {
		return fmt.Errorf("decode image %s: %w", job.ImageID, err)
	}

	renditions := make([]processor.Rendition, len(processor.Formats)*len(processor.Widths))
	g, gctx := errgroup.WithContext(ctx)
	for i, format := range processor.Formats {
		for j, width := range processor.Widths {
			slot := i*len(processor.Widths) + j
			format, width := format, width
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				r, err := p.Rendition(width, format)
				if err != nil {
					return err
				}
				renditions[slot] = r
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("generate renditions for %s: %w", job.ImageID, err)
	}

	rows := make([]entities.OptimizedImage, len(renditions))
	for i, r := range renditions {
		rows[i] = entities.OptimizedImage{
			ID:       uuid.NewString(),
			ImageID:  job.ImageID,
			MimeType: r.MimeType,
			Size:     r.Size,
			Width:    r.Width,
			Height:   r.Height,
		}
	}
	if err := w.meta.InsertOptimized(ctx, rows); err != nil {
		return fmt.Errorf("insert renditions for %s: %w", job.ImageID, err)
	}

	for _, r := range renditions {
		key := entities.OptimizedObjectKey(job.ImageID, r.TargetWidth, r.Format)
		if err := w.blobs.Upload(ctx, key, r.MimeType, r.Data); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}

	w.bus.Publish(entities.OptimizedEvent{Model: job.Model, ImageID: job.ImageID})
	log.Printf("[optimize-worker] optimized image %s (%d renditions)", job.ImageID, len(renditions))
	return nil
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case string:
		var x int
		fmt.Sscanf(t, "%d", &x)
		return x
	default:
		return 0
	}
}
