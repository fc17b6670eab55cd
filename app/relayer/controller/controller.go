package controller

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/ufedojoa/townsquare/app/relayer/jobs"
	"github.com/ufedojoa/townsquare/app/relayer/types"
)

type Controller struct {
	App         *types.App
	Invalidator *jobs.Invalidator
}

// NewController returns a new controller.
func NewController(app *types.App, inv *jobs.Invalidator) *Controller {
	return &Controller{App: app, Invalidator: inv}
}

// NewRouter returns the router with every route of the relayer.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(c.withRequestID, c.withAccessLog)

	r.HandleFunc("/health", c.HandleHealth).Methods(http.MethodGet)
	if c.App.Metrics != nil {
		r.Handle("/metrics", c.App.Metrics.Handler()).Methods(http.MethodGet)
	}

	for _, prefix := range []string{"", "/api"} {
		r.HandleFunc(prefix+"/vote/{spaceId}/{proposalId}", c.HandleVote).Methods(http.MethodPost)
	}

	r.HandleFunc("/spaces", c.HandleSpaces).Methods(http.MethodGet)
	r.HandleFunc("/spaces/{spaceId}", c.HandleSpace).Methods(http.MethodGet)
	r.HandleFunc("/spaces/{spaceId}/settings", c.HandleSpaceSettings).Methods(http.MethodGet)
	r.HandleFunc("/spaces/{spaceId}/members/{address}", c.HandleMembership).Methods(http.MethodGet)
	r.HandleFunc("/spaces/{spaceId}/proposals", c.HandleProposals).Methods(http.MethodGet)
	r.HandleFunc("/spaces/{spaceId}/proposals/{proposalId}", c.HandleProposal).Methods(http.MethodGet)
	r.HandleFunc("/spaces/{spaceId}/proposals/{proposalId}/outcome", c.HandleOutcome).Methods(http.MethodGet)
	r.HandleFunc("/spaces/{spaceId}/proposals/{proposalId}/votes", c.HandleVotes).Methods(http.MethodGet)
	r.HandleFunc("/spaces/{spaceId}/proposals/{proposalId}/votes/{address}", c.HandleHasVoted).Methods(http.MethodGet)
	r.HandleFunc("/spaces/{spaceId}/proposals/{proposalId}/power/{address}", c.HandlePower).Methods(http.MethodGet)
	r.HandleFunc("/users/{address}/spaces", c.HandleUserSpaces).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(c.RequireAdmin)
	admin.HandleFunc("/cache/invalidate", c.HandleInvalidate).Methods(http.MethodPost)

	return r, nil
}

// WithCORS wraps h with the configured origin policy. No origins means any origin.
func WithCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	}).Handler(h)
}
