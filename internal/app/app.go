// Package app assembles the QRescue services from a Config. The server and
// the serverless entry points share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/config"
	"github.com/dharsanguruparan/QRescue/internal/database"
	"github.com/dharsanguruparan/QRescue/internal/metrics"
	"github.com/dharsanguruparan/QRescue/internal/photo"
	"github.com/dharsanguruparan/QRescue/internal/processing"
	"github.com/dharsanguruparan/QRescue/internal/qrcode"
	"github.com/dharsanguruparan/QRescue/internal/queue"
	"github.com/dharsanguruparan/QRescue/internal/registration"
	"github.com/dharsanguruparan/QRescue/internal/resolution"
	"github.com/dharsanguruparan/QRescue/internal/s3storage"
	"github.com/dharsanguruparan/QRescue/internal/server"
	"github.com/dharsanguruparan/QRescue/internal/storage"
	"github.com/dharsanguruparan/QRescue/internal/worker"
)

// Registry is what the metrics collectors are registered on and exported
// from. *prometheus.Registry satisfies it.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// App holds the wired services plus whatever background loops the chosen
// location dispatch needs.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	Store   *storage.MemoryStore
	Server  *server.Server
	runners []func(ctx context.Context)
	closers []func()
	wg      sync.WaitGroup
}

// Build wires every component. On error, anything already opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg Registry) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, log: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	m := metrics.New(reg)

	persister, err := a.persister(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = storage.NewMemoryStore(logger.Named("store"), persister)
	if persister != nil {
		if err := a.Store.Restore(ctx); err != nil {
			return nil, fmt.Errorf("restore store: %w", err)
		}
	}

	recorder, err := a.recorder()
	if err != nil {
		return nil, err
	}
	blobs, err := a.blobs(ctx)
	if err != nil {
		return nil, err
	}

	res := resolution.New(a.Store, recorder, logger.Named("resolution"), m)
	registrar := registration.New(a.Store, registration.Options{
		BaseURL: cfg.BaseURL,
		Phone:   registration.PhonePolicy(cfg.PhonePolicy),
		Mirror:  cfg.Persistent(),
	}, logger.Named("registration"), m)
	photos := photo.New(a.Store, blobs, res, photo.Options{
		MaxSize:      cfg.MaxPhotoSize,
		AllowedTypes: cfg.AllowedPhotoTypes,
	}, logger.Named("photo"), m)

	a.Server = server.New(cfg, server.Deps{
		Registration: registrar,
		Resolution:   res,
		Photos:       photos,
		Store:        a.Store,
		QR:           qrcode.PNGRenderer{},
		Gatherer:     reg,
	}, logger.Named("http"))

	logger.Info("qrescue wired",
		zap.String("mode", cfg.DeployMode),
		zap.String("persist_backend", a.backendName()),
		zap.String("location_dispatch", cfg.LocationDispatch),
		zap.String("photo_backend", cfg.PhotoBackend))
	return a, nil
}

// Handler is the HTTP handler for all routes.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

// Start launches the background loops. They stop when ctx is cancelled;
// Wait blocks until they have.
func (a *App) Start(ctx context.Context) {
	for _, run := range a.runners {
		a.wg.Add(1)
		go func(run func(context.Context)) {
			defer a.wg.Done()
			run(ctx)
		}(run)
	}
}

// Wait blocks until every background loop has returned.
func (a *App) Wait() {
	a.wg.Wait()
}

// Run starts the background loops and serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Start(ctx)
	err := a.Server.Serve(ctx)
	a.Wait()
	return err
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) backendName() string {
	if !a.cfg.Persistent() {
		return "none"
	}
	return a.cfg.PersistBackend
}

// persister returns nil in stateless mode.
func (a *App) persister(ctx context.Context) (storage.Persister, error) {
	if !a.cfg.Persistent() {
		return nil, nil
	}
	switch a.cfg.PersistBackend {
	case config.BackendFile:
		return storage.NewFilePersister(a.cfg.DataDir)
	case config.BackendPostgres:
		pool, err := database.Connect(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return storage.NewPostgresPersister(pool), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return storage.NewRedisPersister(client, storage.DefaultRedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown persist backend %q", a.cfg.PersistBackend)
	}
}

// recorder returns nil for inline dispatch, which resolution treats as
// appending straight to the store.
func (a *App) recorder() (resolution.Recorder, error) {
	switch a.cfg.LocationDispatch {
	case config.DispatchInline, "":
		return nil, nil
	case config.DispatchPool:
		pool := processing.New(a.Store, a.cfg.ProcessingPool, a.log.Named("processing"))
		a.runners = append(a.runners, func(ctx context.Context) {
			pool.Start(ctx)
			pool.Wait()
		})
		return pool, nil
	case config.DispatchQueue:
		redisOpt := asynq.RedisClientOpt{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		}
		client := asynq.NewClient(redisOpt)
		a.closers = append(a.closers, func() { _ = client.Close() })
		// The consumer lives in this process so the store keeps one writer.
		srv := asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: a.cfg.ProcessingPool,
			Logger:      a.log.Named("asynq").Sugar(),
		})
		handler := worker.NewProcessor(a.Store, a.log.Named("worker")).Handler()
		a.runners = append(a.runners, func(ctx context.Context) {
			if err := srv.Start(handler); err != nil {
				a.log.Error("start queue consumer", zap.Error(err))
				return
			}
			<-ctx.Done()
			srv.Shutdown()
		})
		return queue.NewDispatcher(client), nil
	default:
		return nil, fmt.Errorf("unknown location dispatch %q", a.cfg.LocationDispatch)
	}
}

func (a *App) blobs(ctx context.Context) (photo.BlobStore, error) {
	switch a.cfg.PhotoBackend {
	case config.PhotosDisk, "":
		return photo.NewDiskBlobs(a.cfg.PhotoDir)
	case config.PhotosS3:
		s3, err := s3storage.New(a.cfg)
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure photo bucket: %w", err)
		}
		return s3, nil
	default:
		return nil, errors.New("unknown photo backend " + a.cfg.PhotoBackend)
	}
}
