package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Artemiy111/shop.biplane-design.com/cmd/migrate"
	"github.com/Artemiy111/shop.biplane-design.com/internal/cache"
	"github.com/Artemiy111/shop.biplane-design.com/internal/config"
	"github.com/Artemiy111/shop.biplane-design.com/internal/notify"
	"github.com/Artemiy111/shop.biplane-design.com/internal/queue"
	"github.com/Artemiy111/shop.biplane-design.com/internal/redisholder"
	"github.com/Artemiy111/shop.biplane-design.com/internal/redislock"
	"github.com/Artemiy111/shop.biplane-design.com/internal/repository/storage"
	"github.com/Artemiy111/shop.biplane-design.com/internal/s3"
	"github.com/Artemiy111/shop.biplane-design.com/internal/transport/handler"
	"github.com/Artemiy111/shop.biplane-design.com/internal/transport/router"
	use_case "github.com/Artemiy111/shop.biplane-design.com/internal/use-case"
)

const imageCacheTTL = 5 * time.Minute

type App struct {
	HttpServer *http.Server

	cancel context.CancelFunc
	repo   *storage.Storage
	holder *redisholder.Holder
}

// New wires the whole pipeline. The queue, lock, cache and event bus are
// created once here and shared by reference; nothing reinitializes them
// later.
func New(cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	err := migrate.Up(cfg.Database.DSN)
	if err != nil {
		cancel()
		return nil, err
	}

	repo, err := storage.New(ctx, cfg.Database.DSN)
	if err != nil {
		cancel()
		return nil, err
	}

	holder, err := redisholder.Build(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}

	rc := holder.Get()
	locker := redislock.NewLocker(rc, cfg.Lock)

	// Projections cached before this deploy may not match the current schema.
	redisCache := cache.NewCache("shop:images", rc, imageCacheTTL)
	if err := redisCache.Flush(ctx); err != nil {
		log.Printf("cache: startup flush failed: %v", err)
	}

	s3Storage, err := s3.NewStorage(&cfg.S3)
	if err != nil {
		cancel()
		return nil, err
	}

	bus := notify.NewBus()
	producer := queue.Init(ctx, rc, cfg.Optimize, repo, s3Storage, bus)

	// Completed optimizations change what the list endpoint should return,
	// so the cache is a subscriber like any other client.
	go func() {
		for e := range bus.Subscribe(ctx) {
			if err := redisCache.InvalidateModel(ctx, e.Model.ID); err != nil {
				log.Printf("cache: failed to invalidate model %s: %v", e.Model.ID, err)
			}
		}
	}()

	uc := use_case.New(repo, locker, s3Storage, producer, redisCache)

	h := handler.New(uc, bus, repo, cfg)
	r := router.NewRouter(h)

	s := &http.Server{
		Handler:      r,
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		HttpServer: s,
		cancel:     cancel,
		repo:       repo,
		holder:     holder,
	}, nil
}

func (a *App) Run() error {
	log.Printf("starting server on %s", a.HttpServer.Addr)
	return a.HttpServer.ListenAndServe()
}

// Shutdown stops the HTTP server, then cancels the worker and health-loop
// contexts and closes the shared clients.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.HttpServer.Shutdown(ctx)
	a.cancel()
	a.repo.Close()
	return err
}
