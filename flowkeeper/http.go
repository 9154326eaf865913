package flowkeeper

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/flowkeeper/fingerprint"
	"github.com/hazyhaar/flowkeeper/flowgraph"
	"github.com/hazyhaar/flowkeeper/journey"
	"github.com/hazyhaar/flowkeeper/kit"
)

// maxBodyBytes bounds request bodies; page uploads carry raw HTML.
const maxBodyBytes = 8 << 20

// Handler returns the HTTP API.
func (k *Keeper) Handler() http.Handler {
	ep := k.endpoints()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(kitContext)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(k.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/flows/important", func(w http.ResponseWriter, r *http.Request) {
			serve(w, r, ep.importantFlows, &importantFlowsRequest{
				Limit: queryInt(r, "limit", defaultImportantLimit),
			})
		})
		r.Get("/journeys/critical", func(w http.ResponseWriter, r *http.Request) {
			serve(w, r, ep.criticalJourneys, &criticalJourneysRequest{})
		})
		r.Get("/paths", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("from") == "" || q.Get("to") == "" {
				writeError(w, 400, errors.New("from and to are required"))
				return
			}
			req := &findPathsRequest{From: q.Get("from"), To: q.Get("to")}
			if q.Has("max_depth") {
				depth, err := strconv.Atoi(q.Get("max_depth"))
				if err != nil {
					writeError(w, 400, fmt.Errorf("max_depth: %w", err))
					return
				}
				req.MaxDepth = &depth
			}
			serve(w, r, ep.findPaths, req)
		})
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			serve(w, r, ep.stats, &statsRequest{})
		})
		r.Post("/heal", func(w http.ResponseWriter, r *http.Request) {
			var req HealRequest
			if !decodeBody(w, r, &req) {
				return
			}
			serve(w, r, ep.heal, &req)
		})
		r.Post("/pages", func(w http.ResponseWriter, r *http.Request) {
			var req CrawledPage
			if !decodeBody(w, r, &req) {
				return
			}
			serve(w, r, ep.recordPage, &req)
		})
		r.Post("/flows/{id}/verify", func(w http.ResponseWriter, r *http.Request) {
			var req verifyFlowRequest
			if r.ContentLength != 0 && !decodeBody(w, r, &req) {
				return
			}
			req.ID = chi.URLParam(r, "id")
			serve(w, r, ep.verifyFlow, &req)
		})
	})
	return r
}

// kitContext copies request metadata into the context seen by endpoints.
func kitContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, middleware.GetReqID(ctx))
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func serve(w http.ResponseWriter, r *http.Request, e kit.Endpoint, req any) {
	resp, err := e(r.Context(), req)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, 200, resp)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, flowgraph.ErrFlowNotFound), errors.Is(err, ErrUnknownFingerprint):
		return http.StatusNotFound
	case errors.Is(err, flowgraph.ErrInvalidFlow), errors.Is(err, flowgraph.ErrMissingPageID),
		errors.Is(err, journey.ErrInvalidDepth), errors.Is(err, ErrInvalidPage),
		errors.Is(err, fingerprint.ErrMissingID):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, 400, fmt.Errorf("invalid body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
