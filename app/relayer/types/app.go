package types

import (
	"context"
	"net/http"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"github.com/ufedojoa/townsquare/pkg/ledger"
	"github.com/ufedojoa/townsquare/pkg/metrics"
	"github.com/ufedojoa/townsquare/pkg/redis"
	"github.com/ufedojoa/townsquare/pkg/townsquare"
	"github.com/ufedojoa/townsquare/pkg/vote"
	"go.uber.org/zap"
)

// Config is the relayer configuration resolved at startup.
type Config struct {
	Addr    string
	ChainID uint64
	// AdminTokenHash guards the admin routes. Empty disables them.
	AdminTokenHash  []byte
	CORSOrigins     []string
	RefreshSchedule string
	// InstanceID tags published events so an instance can skip its own.
	InstanceID string
}

type App struct {
	Config Config

	Ledger     ledger.Gateway
	Domain     *townsquare.Client
	Authorizer *vote.Authorizer
	Metrics    *metrics.Metrics
	// RedisClient is nil when REDIS_ENABLED is false.
	RedisClient *redis.Client
	// Pool is shared by the vote pre-check reads and the cache refresher.
	Pool pond.Pool
	Cron *cron.Cron

	// Closers run on shutdown after the server stops, in order.
	Closers []func() error

	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start serves until ctx is cancelled, then drains background work and shuts down.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	if a.Cron != nil {
		a.Cron.Start()
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// in-flight relays finish before the ledger connection goes away
	_ = a.Server.Shutdown(shutdownCtx)
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	a.Authorizer.Close()
	if a.Pool != nil {
		a.Pool.StopAndWait()
	}
	for _, closeFn := range a.Closers {
		if err := closeFn(); err != nil {
			a.Logger.Error("Failed to close resource", zap.Error(err))
		}
	}
	a.Logger.Info("さようなら!")
}
