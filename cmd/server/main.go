// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/boardroomhq/boardroom/internal/audit"
	"github.com/boardroomhq/boardroom/internal/auth"
	"github.com/boardroomhq/boardroom/internal/cache"
	"github.com/boardroomhq/boardroom/internal/config"
	"github.com/boardroomhq/boardroom/internal/content"
	"github.com/boardroomhq/boardroom/internal/engine"
	"github.com/boardroomhq/boardroom/internal/handlers"
	"github.com/boardroomhq/boardroom/internal/kpi"
	"github.com/boardroomhq/boardroom/internal/store"
)

func main() {
	logger := logrus.StandardLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
	}

	if err := initAuth(cfg); err != nil {
		logger.Fatalf("auth init: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := store.Connect(ctx, cfg.PostgresURL())
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	rdb, err := cache.Connect(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	pack, err := loadPack(cfg.ContentPackPath)
	if err != nil {
		logger.Fatalf("content pack: %v", err)
	}
	logger.Infof("loaded content pack %q (%d phases)", pack.Name, len(pack.Phases))

	manager := engine.NewManager(engine.ManagerDeps{
		Store:          pg,
		Pack:           pack,
		Processor:      kpi.NewProcessor(pack, pg),
		Feed:           cache.NewDecisionNotifier(rdb),
		Audit:          audit.NewPublisher(rdb, cfg.AuditQueueName),
		PingInterval:   cfg.PingInterval,
		LivenessWindow: cfg.LivenessWindow,
	})

	api := handlers.NewServer(pg, manager, logger)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Routes(),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		logger.Fatalf("server exited: %v", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
}

// initAuth loads the shared signing key when one is configured; otherwise
// tokens die with the process and consoles re-login after a restart.
func initAuth(cfg *config.Config) error {
	if cfg.AuthPrivateKeyFile != "" {
		return auth.InitFromPath(cfg.AuthPrivateKeyFile, cfg.AuthPublicKeyFile, cfg.TokenExpire)
	}
	return auth.Init(cfg.TokenExpire)
}

func loadPack(path string) (*content.Pack, error) {
	if path == "" {
		return content.Default()
	}
	return content.Load(path)
}
