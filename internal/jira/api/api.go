// Package api exposes the sync engine over HTTP.
//
// Sync endpoints take the remote credentials in the request body and fall
// back to the configured credentials when the body is empty. Errors map to
// status codes by kind: validation and decode failures are 400, missing rows
// and empty reads are 404, unique-key conflicts are 409 and everything else
// is 500.
package api

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/steveyegge/jirasync/internal/jira/schema"
	jirasync "github.com/steveyegge/jirasync/internal/jira/sync"
)

const (
	// defaultStoreTimeout bounds requests that only touch the local store.
	defaultStoreTimeout = time.Minute

	maxRequestBytes = 1 << 20
)

// Config holds API configuration.
type Config struct {
	// Credentials are used by sync requests that carry none.
	Credentials schema.Credentials

	// Events is mounted at /api/events when set, usually a *dashboard.Server.
	Events http.Handler

	// Logger for request failures (default: stderr logger).
	Logger *log.Logger
}

// API serves the HTTP endpoints of one syncer.
type API struct {
	syncer jirasync.Syncer
	creds  schema.Credentials
	events http.Handler
	logger *log.Logger
}

// New creates the API for syncer.
func New(syncer jirasync.Syncer, config *Config) *API {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}
	return &API{
		syncer: syncer,
		creds:  config.Credentials,
		events: config.Events,
		logger: logger,
	}
}

// Router returns a router with every handler registered.
func (a *API) Router() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	a.RegisterHandlers(router)
	return router
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a *API) RegisterHandlers(router chi.Router) {
	router.Get("/health", a.healthHandler)

	router.Route("/api", func(r chi.Router) {
		r.Post("/sync", a.syncHandler)

		r.Get("/issues", a.issuesHandler)
		r.Post("/issues/sync", a.syncIssuesHandler)
		r.Get("/issues/{key}/history", a.issueHistoryHandler)
		r.Get("/remote/issues", a.remoteIssuesHandler)

		r.Get("/users", a.usersHandler)
		r.Post("/users", a.addUserHandler)
		r.Post("/users/sync", a.syncUsersHandler)
		r.Get("/users/{id}/activities", a.userActivitiesHandler)
		r.Get("/users/{id}/profile", a.userProfileHandler)

		r.Post("/history/sync", a.syncHistoryHandler)

		r.Get("/activity-types", a.activityTypesHandler)
		r.Post("/activity-types", a.addActivityTypeHandler)
		r.Post("/activities", a.addActivityHandler)
		r.Post("/profiles", a.addProfileHandler)

		r.Get("/stats", a.statsHandler)

		if a.events != nil {
			r.Handle("/events", a.events)
		}
	})
}
