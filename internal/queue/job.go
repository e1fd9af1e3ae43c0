package queue

import "github.com/Artemiy111/shop.biplane-design.com/internal/entities"

// OptimizeJob is what we push to Redis Streams. It carries the raw image
// bytes (base64 for transport) so workers never depend on the coordinator's
// process state; any consumer of the stream can run the job.
type OptimizeJob struct {
	Model    entities.ModelRef `json:"model"`
	ImageID  string            `json:"image_id"`
	MimeType string            `json:"mime_type"`
	Buffer   string            `json:"buffer"` // base64-encoded original
}
