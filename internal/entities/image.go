package entities

import (
	"fmt"
	"time"
)

// Image is one uploaded original. Renditions hang off it in images_optimized
// and are cascade-deleted with it.
type Image struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
}

// ModelImage binds an image to a model. For a fixed model the sort orders
// form a dense 1..N sequence; an image belongs to exactly one model.
type ModelImage struct {
	ModelID   string `json:"model_id"`
	ImageID   string `json:"image_id"`
	SortOrder int    `json:"sort_order"`
}

// OptimizedImage is one derived rendition, identified within its parent
// image by the (mime type, width) pair. Never mutated after creation.
type OptimizedImage struct {
	ID        string    `json:"id"`
	ImageID   string    `json:"image_id"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
}

// ModelRef identifies the model an optimization job was enqueued for.
// The slug rides along so subscribers can invalidate by page without a lookup.
type ModelRef struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// ModelImageView is the projection returned by the list endpoint: the image,
// its position and whatever renditions exist so far. Optimized may be empty
// while the job is still in flight; clients fall back to the original.
type ModelImageView struct {
	Image
	SortOrder int              `json:"sort_order"`
	Optimized []OptimizedImage `json:"optimized"`
}

// OptimizedEvent is published when every rendition of an image has been
// written to both the database and the object store.
type OptimizedEvent struct {
	Model   ModelRef `json:"model"`
	ImageID string   `json:"image_id"`
}

var allowedUploadMimes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// UploadExt maps an accepted upload mime type to the extension used for the
// original's object key. ok is false for anything we cannot decode.
func UploadExt(mimeType string) (ext string, ok bool) {
	ext, ok = allowedUploadMimes[mimeType]
	return ext, ok
}

// Object store layout. Originals and renditions live under separate
// prefixes, both keyed by image id.
func OriginalObjectKey(imageID, ext string) string {
	return fmt.Sprintf("images/original/%s%s", imageID, ext)
}

func OptimizedObjectKey(imageID string, width int, format string) string {
	return fmt.Sprintf("images/optimized/%s/%d.%s", imageID, width, format)
}
