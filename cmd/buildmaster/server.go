package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vyvo/buildmaster/pkg/auth"
	"github.com/vyvo/buildmaster/pkg/builds"
	"github.com/vyvo/buildmaster/pkg/changes"
	"github.com/vyvo/buildmaster/pkg/commands"
	"github.com/vyvo/buildmaster/pkg/project"
	"github.com/vyvo/buildmaster/pkg/reporter"
	"github.com/vyvo/buildmaster/pkg/scheduler"
)

type server struct {
	master *master
	keys   auth.KeySet
}

func newRouter(s *server) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(timeoutMiddleware(60 * time.Second))

	router.Get("/healthz", healthzHandler)

	router.Route("/v1", func(r chi.Router) {
		r.Post("/changes", s.handleChange)
		r.Post("/comments", s.handleComment)
		r.Post("/results", s.handleResult)
		r.Get("/builders", s.handleListBuilders)
		r.Get("/builds", s.handleListBuilds)
		r.Get("/builds/{buildID}", s.handleGetBuild)

		r.Group(func(r chi.Router) {
			if !s.keys.Empty() {
				r.Use(s.keys.Middleware)
			}
			r.Post("/force", s.handleForce)
			r.Post("/reload", s.handleReload)
		})
	})
	return router
}

func timeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleChange(w http.ResponseWriter, r *http.Request) {
	var event changes.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if event.Project == "" || event.Revision == "" {
		respondError(w, http.StatusBadRequest, "project and revision are required")
		return
	}
	snap, ok := s.servedSnapshot(w, event.Project)
	if !ok {
		return
	}
	if event.When.IsZero() {
		event.When = time.Now().UTC()
	}
	snap.Dispatch(event)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// servedSnapshot returns the live snapshot when it serves name. A master
// serves exactly one project.
func (s *server) servedSnapshot(w http.ResponseWriter, name string) (*project.Snapshot, bool) {
	snap := s.master.snapshots.Current()
	if snap.Project != name {
		respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("project %q is not served by this master (serving %q)", name, snap.Project))
		return nil, false
	}
	return snap, true
}

type commentPayload struct {
	Project    string `json:"project"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Revision   string `json:"revision"`
	Number     int    `json:"number"`
	Author     string `json:"author"`
	Body       string `json:"body"`
}

func (s *server) handleComment(w http.ResponseWriter, r *http.Request) {
	var payload commentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if payload.Project == "" || payload.Revision == "" || payload.Number <= 0 {
		respondError(w, http.StatusBadRequest, "project, revision and number are required")
		return
	}
	snap, ok := s.servedSnapshot(w, payload.Project)
	if !ok {
		return
	}
	if !commands.IsCommand(payload.Body) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	props, err := commands.Parse(payload.Body)
	if err != nil {
		var cmdErr *commands.CommandError
		if errors.As(err, &cmdErr) {
			respondError(w, http.StatusUnprocessableEntity, cmdErr.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	props[reporter.PullRequestProperty] = strconv.Itoa(payload.Number)

	event := changes.Event{
		Project:    payload.Project,
		Repository: payload.Repository,
		Branch:     payload.Branch,
		Revision:   payload.Revision,
		Author:     payload.Author,
		Properties: props,
		When:       time.Now().UTC(),
	}.Categorized(changes.CategoryComment)
	snap.Dispatch(event)
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "properties": props})
}

type forcePayload struct {
	Scheduler string `json:"scheduler"`
	scheduler.ForceRequest
}

func (s *server) handleForce(w http.ResponseWriter, r *http.Request) {
	var payload forcePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if payload.Builder == "" {
		respondError(w, http.StatusBadRequest, "builder is required")
		return
	}

	fs, err := s.master.snapshots.Current().ForceScheduler(payload.Scheduler)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	req, err := fs.Force(r.Context(), payload.ForceRequest)
	if errors.Is(err, scheduler.ErrUnknownBuilder) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, req)
}

func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.master.snapshots.Reload(); err != nil {
		var cfgErr *project.ConfigurationError
		if errors.As(err, &cfgErr) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *server) handleResult(w http.ResponseWriter, r *http.Request) {
	var result builds.Result
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := result.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.master.handleResult(r.Context(), result)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *server) handleListBuilders(w http.ResponseWriter, r *http.Request) {
	snap := s.master.snapshots.Current()
	respondJSON(w, http.StatusOK, map[string]any{
		"builders":    builderViews(snap),
		"unsatisfied": snap.Resolution.Unsatisfied,
	})
}

func (s *server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.master.store.List(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []builds.Build{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.master.store.Get(chi.URLParam(r, "buildID"))
	if errors.Is(err, builds.ErrNotFound) {
		respondError(w, http.StatusNotFound, "build not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
