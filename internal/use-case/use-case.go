package use_case

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/Artemiy111/shop.biplane-design.com/internal/entities"
	"github.com/Artemiy111/shop.biplane-design.com/internal/processor"
	"github.com/Artemiy111/shop.biplane-design.com/internal/queue"
	"github.com/Artemiy111/shop.biplane-design.com/internal/redislock"
)

const (
	txConflictRetries = 3
	txConflictDelay   = 25 * time.Millisecond
)

type Storage interface {
	CreateImage(ctx context.Context, modelID string, img entities.Image) (entities.ModelImage, error)
	UpdateImageOrder(ctx context.Context, modelID, imageID string, newOrder int) error
	DeleteImage(ctx context.Context, modelID, imageID string) (entities.Image, error)
	GetModelImage(ctx context.Context, modelID, imageID string) (entities.Image, error)
	ListModelImages(ctx context.Context, modelID string) ([]entities.ModelImageView, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string) (token string, err error)
	Release(ctx context.Context, key, token string) error
}

type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, payload []byte) error
	Download(ctx context.Context, key string) (data []byte, contentType string, err error)
	Delete(ctx context.Context, key string) error
}

type Enqueuer interface {
	EnqueueOptimize(ctx context.Context, job queue.OptimizeJob) error
}

type ImageCache interface {
	GetModelImages(ctx context.Context, modelID string) ([]entities.ModelImageView, bool)
	StoreModelImages(ctx context.Context, modelID string, views []entities.ModelImageView) error
	InvalidateModel(ctx context.Context, modelID string) error
}

type UseCase struct {
	storage Storage
	locker  Locker
	blobs   BlobStore
	wqueue  Enqueuer
	cache   ImageCache
}

func New(storage Storage, locker Locker, blobs BlobStore, wqueue Enqueuer, cache ImageCache) *UseCase {
	return &UseCase{
		storage: storage,
		locker:  locker,
		blobs:   blobs,
		wqueue:  wqueue,
		cache:   cache,
	}
}

// UploadImage runs the ingestion path: decode metadata, take the model's
// ordering lock, persist the image at the next sort order, upload the
// original and enqueue the optimization job. It returns as soon as the job
// is enqueued; renditions arrive asynchronously.
//
// The lock exists because "read MAX(sort_order), insert max+1" is a
// check-then-act race between concurrent uploads to the same model; two
// transactions can read the same max before either commits.
func (c *UseCase) UploadImage(ctx context.Context, model entities.ModelRef, filename, mimeType string, data []byte) (entities.ModelImageView, error) {
	var view entities.ModelImageView

	ext, ok := entities.UploadExt(mimeType)
	if !ok {
		return view, fmt.Errorf("%w: %s", entities.ErrUnsupportedFormat, mimeType)
	}
	p, err := processor.Decode(data, mimeType)
	if err != nil {
		return view, err
	}
	width, height := p.Bounds()

	img := entities.Image{
		ID:       uuid.NewString(),
		Filename: filename,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Width:    width,
		Height:   height,
	}

	// Everything before this point is pure; the lock is taken before the
	// first write so a timeout leaves no partial state behind.
	lockKey := redislock.ModelOrderKey(model.ID)
	token, err := c.locker.Acquire(ctx, lockKey)
	if err != nil {
		return view, err
	}
	defer func() {
		if err := c.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Printf("upload: failed to release lock %s: %v", lockKey, err)
		}
	}()

	attachment, err := c.storage.CreateImage(ctx, model.ID, img)
	if err != nil {
		return view, err
	}

	// The DB row is committed at this point. A failed blob upload leaves
	// row and object out of sync on purpose: reconciliation is an operator
	// concern, not a two-phase commit.
	originalKey := entities.OriginalObjectKey(img.ID, ext)
	if err := c.blobs.Upload(ctx, originalKey, mimeType, data); err != nil {
		sentry.CaptureException(err)
		log.Printf("upload: image %s committed but original blob upload failed: %v", img.ID, err)
		return view, fmt.Errorf("upload original %s: %w", originalKey, err)
	}

	err = c.wqueue.EnqueueOptimize(ctx, queue.OptimizeJob{
		Model:    model,
		ImageID:  img.ID,
		MimeType: mimeType,
		Buffer:   base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return view, fmt.Errorf("enqueue optimization for %s: %w", img.ID, err)
	}

	_ = c.cache.InvalidateModel(ctx, model.ID)

	view = entities.ModelImageView{
		Image:     img,
		SortOrder: attachment.SortOrder,
		Optimized: []entities.OptimizedImage{},
	}
	return view, nil
}

// UpdateImageOrder moves an image within its model's sequence. Serializable
// conflicts are retried here so concurrent reorders surface to callers only
// after the retry budget is spent.
func (c *UseCase) UpdateImageOrder(ctx context.Context, modelID, imageID string, newOrder int) error {
	err := retryTxConflict(ctx, func() error {
		return c.storage.UpdateImageOrder(ctx, modelID, imageID, newOrder)
	})
	if err != nil {
		return err
	}
	_ = c.cache.InvalidateModel(ctx, modelID)
	return nil
}

// DeleteImage removes an image, its attachment and renditions, closes the
// sort-order gap and best-effort deletes the blobs. Blob deletion failures
// only log; the database is the source of truth.
func (c *UseCase) DeleteImage(ctx context.Context, modelID, imageID string) error {
	var img entities.Image
	err := retryTxConflict(ctx, func() error {
		var err error
		img, err = c.storage.DeleteImage(ctx, modelID, imageID)
		return err
	})
	if err != nil {
		return err
	}
	_ = c.cache.InvalidateModel(ctx, modelID)

	if ext, ok := entities.UploadExt(img.MimeType); ok {
		c.deleteBlob(ctx, entities.OriginalObjectKey(imageID, ext))
	}
	// Rendition object keys are named by target width, which the rendition
	// rows do not record, so cleanup walks the full matrix.
	for _, format := range processor.Formats {
		for _, width := range processor.Widths {
			c.deleteBlob(ctx, entities.OptimizedObjectKey(imageID, width, format))
		}
	}
	return nil
}

func (c *UseCase) deleteBlob(ctx context.Context, key string) {
	if err := c.blobs.Delete(ctx, key); err != nil {
		log.Printf("delete: failed to remove blob %s: %v", key, err)
	}
}

// ReprocessImage re-enqueues optimization for an already persisted image,
// reading the original back from the object store. This is the operator
// path for images whose job ended in the dead-letter stream or whose
// renditions went missing.
func (c *UseCase) ReprocessImage(ctx context.Context, model entities.ModelRef, imageID string) error {
	img, err := c.storage.GetModelImage(ctx, model.ID, imageID)
	if err != nil {
		return err
	}
	ext, ok := entities.UploadExt(img.MimeType)
	if !ok {
		return fmt.Errorf("%w: %s", entities.ErrUnsupportedFormat, img.MimeType)
	}

	data, _, err := c.blobs.Download(ctx, entities.OriginalObjectKey(imageID, ext))
	if err != nil {
		return fmt.Errorf("download original for %s: %w", imageID, err)
	}

	return c.wqueue.EnqueueOptimize(ctx, queue.OptimizeJob{
		Model:    model,
		ImageID:  imageID,
		MimeType: img.MimeType,
		Buffer:   base64.StdEncoding.EncodeToString(data),
	})
}

// ListModelImages serves the projection from cache when possible.
func (c *UseCase) ListModelImages(ctx context.Context, modelID string) ([]entities.ModelImageView, error) {
	if views, ok := c.cache.GetModelImages(ctx, modelID); ok {
		return views, nil
	}
	views, err := c.storage.ListModelImages(ctx, modelID)
	if err != nil {
		return nil, err
	}
	_ = c.cache.StoreModelImages(ctx, modelID, views)
	return views, nil
}

func retryTxConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < txConflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, entities.ErrTxConflict) {
			return err
		}
		t := time.NewTimer(txConflictDelay << attempt)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return err
}
