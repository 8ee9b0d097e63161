// Package server initializes and runs the VPN access server: it opens the
// database, runs migrations, connects the panel client and starts the HTTP
// API and (optionally) the Telegram bot, with graceful shutdown on signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/vpnaccess/internal/bot"
	"github.com/dmitrijs2005/vpnaccess/internal/logging"
	"github.com/dmitrijs2005/vpnaccess/internal/server/config"
	"github.com/dmitrijs2005/vpnaccess/internal/server/httpapi"
	"github.com/dmitrijs2005/vpnaccess/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vpnaccess/internal/server/services"
	"github.com/dmitrijs2005/vpnaccess/internal/xui"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	panel  *xui.Client
	access *services.AccessService
	preset *services.PresetService
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	panel, err := xui.New(cfg.PanelURL, cfg.PanelBasePath, cfg.PanelUsername, cfg.PanelPassword,
		&http.Client{Timeout: cfg.PanelTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("panel client error: %w", err)
	}

	// A dead panel is a warning at startup. The first real operation will
	// surface the error to whoever triggered it.
	if !panel.HealthCheck(ctx) {
		logger.Warn(ctx, "panel health check failed", "url", cfg.PanelURL)
	}

	access := services.NewAccessService(db, rm, panel, cfg, logger)
	preset := services.NewPresetService(db, rm, access, logger)

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		panel:  panel,
		access: access,
		preset: preset,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	router := httpapi.NewRouter(app.access, app.preset, app.panel, app.config, app.logger)
	srv := &http.Server{Addr: app.config.EndpointAddrHTTP, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "http api listening", "addr", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startBot(ctx context.Context, cancelFunc context.CancelFunc) {
	b, err := bot.New(app.config, app.access, app.logger)
	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return
	}
	b.Run(ctx)
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.config.BotToken != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startBot(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}
