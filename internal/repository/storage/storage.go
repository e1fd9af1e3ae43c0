package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Artemiy111/shop.biplane-design.com/internal/entities"
)

// Storage owns the image tables and the dense sort-order invariant: for any
// model the attachment sort orders are exactly {1..N}. Insert-next relies on
// the caller holding the per-model lock; reorder and delete rely on
// serializable transactions plus the deferrable uniqueness constraint on
// (model_id, sort_order).
type Storage struct {
	dbpool *pgxpool.Pool
}

func New(ctx context.Context, databaseDSN string) (*Storage, error) {
	pool, err := pgxpool.New(ctx, databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &Storage{dbpool: pool}, nil
}

func (s *Storage) Close() {
	s.dbpool.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.dbpool.Ping(ctx)
}

// mapTxErr converts serialization aborts into entities.ErrTxConflict so the
// use case can retry the whole operation.
func mapTxErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %v", entities.ErrTxConflict, err)
		}
	}
	return err
}

// CreateImage inserts the image row and its attachment at the next free
// sort order in a single transaction. The read of MAX(sort_order) and the
// insert are a check-then-act pair, so the caller must hold the model's
// ordering lock for the whole call.
func (s *Storage) CreateImage(ctx context.Context, modelID string, img entities.Image) (entities.ModelImage, error) {
	var attachment entities.ModelImage

	tx, err := s.dbpool.Begin(ctx)
	if err != nil {
		return attachment, err
	}
	defer tx.Rollback(ctx)

	var maxOrder int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sort_order), 0) FROM model_images WHERE model_id = $1`,
		modelID).Scan(&maxOrder)
	if err != nil {
		return attachment, fmt.Errorf("read max sort order: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO images (id, filename, mime_type, size, width, height)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		img.ID, img.Filename, img.MimeType, img.Size, img.Width, img.Height)
	if err != nil {
		return attachment, fmt.Errorf("insert image: %w", err)
	}

	attachment = entities.ModelImage{ModelID: modelID, ImageID: img.ID, SortOrder: maxOrder + 1}
	_, err = tx.Exec(ctx,
		`INSERT INTO model_images (model_id, image_id, sort_order) VALUES ($1, $2, $3)`,
		attachment.ModelID, attachment.ImageID, attachment.SortOrder)
	if err != nil {
		return entities.ModelImage{}, fmt.Errorf("insert attachment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return entities.ModelImage{}, err
	}
	return attachment, nil
}

// UpdateImageOrder moves one image to newOrder, shifting only the affected
// window. The constraint on (model_id, sort_order) is deferred for the
// duration of the transaction because the bulk shift briefly duplicates
// values before the final placement statement.
func (s *Storage) UpdateImageOrder(ctx context.Context, modelID, imageID string, newOrder int) error {
	tx, err := s.dbpool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET CONSTRAINTS model_images_model_id_sort_order_key DEFERRED`); err != nil {
		return err
	}

	var current, total int
	err = tx.QueryRow(ctx,
		`SELECT sort_order, (SELECT COUNT(*) FROM model_images WHERE model_id = $1)
		 FROM model_images WHERE model_id = $1 AND image_id = $2`,
		modelID, imageID).Scan(&current, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.ErrImageNotFound
	}
	if err != nil {
		return mapTxErr(err)
	}
	if newOrder < 1 || newOrder > total {
		return fmt.Errorf("%w: %d not in 1..%d", entities.ErrOrderOutOfRange, newOrder, total)
	}

	lo, hi, delta, moved := planShift(current, newOrder)
	if !moved {
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`UPDATE model_images SET sort_order = sort_order + $1
		 WHERE model_id = $2 AND sort_order BETWEEN $3 AND $4`,
		delta, modelID, lo, hi)
	if err != nil {
		return mapTxErr(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE model_images SET sort_order = $1 WHERE model_id = $2 AND image_id = $3`,
		newOrder, modelID, imageID)
	if err != nil {
		return mapTxErr(err)
	}

	return mapTxErr(tx.Commit(ctx))
}

// DeleteImage removes the image (attachment and renditions go with it via
// cascade) and closes the gap it leaves in the sequence. It returns the
// deleted image so the caller can clean up its blobs.
func (s *Storage) DeleteImage(ctx context.Context, modelID, imageID string) (entities.Image, error) {
	var img entities.Image

	tx, err := s.dbpool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return img, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET CONSTRAINTS model_images_model_id_sort_order_key DEFERRED`); err != nil {
		return img, err
	}

	var removedOrder int
	err = tx.QueryRow(ctx,
		`SELECT i.id, i.filename, i.mime_type, i.size, i.width, i.height, i.created_at, mi.sort_order
		 FROM images i JOIN model_images mi ON mi.image_id = i.id
		 WHERE mi.model_id = $1 AND i.id = $2`,
		modelID, imageID).Scan(
		&img.ID, &img.Filename, &img.MimeType, &img.Size, &img.Width, &img.Height,
		&img.CreatedAt, &removedOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.Image{}, entities.ErrImageNotFound
	}
	if err != nil {
		return entities.Image{}, mapTxErr(err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM images WHERE id = $1`, imageID); err != nil {
		return entities.Image{}, mapTxErr(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE model_images SET sort_order = sort_order - 1
		 WHERE model_id = $1 AND sort_order > $2`,
		modelID, removedOrder)
	if err != nil {
		return entities.Image{}, mapTxErr(err)
	}

	if err := mapTxErr(tx.Commit(ctx)); err != nil {
		return entities.Image{}, err
	}
	return img, nil
}

// InsertOptimized writes rendition metadata in one transaction. The unique
// (image_id, mime_type, width) index plus ON CONFLICT DO NOTHING makes the
// insert safe under queue redelivery.
func (s *Storage) InsertOptimized(ctx context.Context, renditions []entities.OptimizedImage) error {
	if len(renditions) == 0 {
		return nil
	}

	tx, err := s.dbpool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range renditions {
		_, err := tx.Exec(ctx,
			`INSERT INTO images_optimized (id, image_id, mime_type, size, width, height)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (image_id, mime_type, width) DO NOTHING`,
			r.ID, r.ImageID, r.MimeType, r.Size, r.Width, r.Height)
		if err != nil {
			return fmt.Errorf("insert rendition %s/%d: %w", r.MimeType, r.Width, err)
		}
	}

	return tx.Commit(ctx)
}

// GetModelImage returns one image, checking it is attached to the model.
func (s *Storage) GetModelImage(ctx context.Context, modelID, imageID string) (entities.Image, error) {
	var img entities.Image
	err := s.dbpool.QueryRow(ctx,
		`SELECT i.id, i.filename, i.mime_type, i.size, i.width, i.height, i.created_at
		 FROM images i JOIN model_images mi ON mi.image_id = i.id
		 WHERE mi.model_id = $1 AND i.id = $2`,
		modelID, imageID).Scan(
		&img.ID, &img.Filename, &img.MimeType, &img.Size, &img.Width, &img.Height, &img.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.Image{}, entities.ErrImageNotFound
	}
	if err != nil {
		return entities.Image{}, err
	}
	return img, nil
}

// ListModelImages returns the model's images in sort order, each with its
// renditions sorted by (mime_type, width).
func (s *Storage) ListModelImages(ctx context.Context, modelID string) ([]entities.ModelImageView, error) {
	rows, err := s.dbpool.Query(ctx,
		`SELECT i.id, i.filename, i.mime_type, i.size, i.width, i.height, i.created_at, mi.sort_order
		 FROM images i JOIN model_images mi ON mi.image_id = i.id
		 WHERE mi.model_id = $1
		 ORDER BY mi.sort_order`,
		modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := make([]entities.ModelImageView, 0)
	for rows.Next() {
		var v entities.ModelImageView
		err := rows.Scan(&v.ID, &v.Filename, &v.MimeType, &v.Size, &v.Width, &v.Height,
			&v.CreatedAt, &v.SortOrder)
		if err != nil {
			return nil, err
		}
		v.Optimized = make([]entities.OptimizedImage, 0)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range views {
		optimized, err := queryOptimized(ctx, s.dbpool, views[i].ID)
		if err != nil {
			return nil, err
		}
		views[i].Optimized = optimized
	}
	return views, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryOptimized(ctx context.Context, q querier, imageID string) ([]entities.OptimizedImage, error) {
	rows, err := q.Query(ctx,
		`SELECT id, image_id, mime_type, size, width, height, created_at
		 FROM images_optimized WHERE image_id = $1
		 ORDER BY mime_type, width`,
		imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	optimized := make([]entities.OptimizedImage, 0)
	for rows.Next() {
		var o entities.OptimizedImage
		err := rows.Scan(&o.ID, &o.ImageID, &o.MimeType, &o.Size, &o.Width, &o.Height, &o.CreatedAt)
		if err != nil {
			return nil, err
		}
		optimized = append(optimized, o)
	}
	return optimized, rows.Err()
}
