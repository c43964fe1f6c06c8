package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"folio/api/internal/app"
	"folio/api/internal/cache"
	"folio/api/internal/config"
	"folio/api/internal/logging"
	"folio/api/internal/search"
	"folio/api/internal/store"
)

var (
	version = "dev"
	cli     struct {
		Version kong.VersionFlag
		Serve   ServeCmd   `cmd:"" default:"1" help:"Run migrations and start the API server."`
		Migrate MigrateCmd `cmd:"" help:"Apply pending migrations and exit."`
	}
)

type Globals struct {
	cfg config.Config
	log zerolog.Logger
}

type ServeCmd struct{}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	db, err := store.Open(ctx, g.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, g.cfg.MigrationsDir); err != nil {
		return err
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(g.cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(g.cfg.MeiliURL, g.cfg.MeiliMasterKey, g.log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, g.log)

	var service *app.Service
	if strings.TrimSpace(g.cfg.RedisURL) != "" {
		g.log.Info().Msg("redis project list cache enabled")
		listCache, err := cache.New(g.cfg.RedisURL, g.cfg.ListCacheTTL)
		if err != nil {
			return err
		}
		defer listCache.Close()
		service = app.NewWithListCache(g.cfg, dataStore, listCache, searchService, g.log)
	} else {
		service = app.New(g.cfg, dataStore, searchService, g.log)
	}
	if err := service.Bootstrap(ctx); err != nil {
		g.log.Warn().Err(err).Msg("bootstrap error, will retry on next restart")
	}
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	httpServer := app.NewHTTPServer(service, g.cfg.CORSOrigin, g.log)
	server := &http.Server{
		Addr:              g.cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.log.Info().Str("addr", g.cfg.Addr).Str("version", version).Msg("API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		g.log.Error().Err(err).Msg("shutdown error")
	}
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(ctx context.Context, g *Globals) error {
	db, err := store.Open(ctx, g.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, g.cfg.MigrationsDir); err != nil {
		return err
	}
	g.log.Info().Msg("migrations applied")
	return nil
}

func main() {
	ctx := context.Background()
	cfg := config.Load()
	log := logging.Setup(cfg.LogLevel)

	cmd := kong.Parse(&cli,
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&Globals{cfg: cfg, log: log})
	cmd.FatalIfErrorf(err)
}
