package relayer

import (
	"net/http"
	"time"

	"github.com/ufedojoa/townsquare/app/relayer/controller"
	"github.com/ufedojoa/townsquare/app/relayer/jobs"
	"github.com/ufedojoa/townsquare/app/relayer/types"
	"go.uber.org/zap"
)

// NewServer builds the HTTP server for app.
func NewServer(app *types.App, inv *jobs.Invalidator) error {
	ctler := controller.NewController(app, inv)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	app.Server = &http.Server{
		Addr:              app.Config.Addr,
		Handler:           controller.WithCORS(router, app.Config.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.Logger.Info("Starting server", zap.String("addr", app.Config.Addr))
	return nil
}
