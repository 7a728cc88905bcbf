package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/web3-frozen/yield-indexer/internal/query"
	"github.com/web3-frozen/yield-indexer/internal/snapshot"
)

// Loader reads the current snapshot set.
type Loader interface {
	Load(ctx context.Context) (*snapshot.Set, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

type notFoundResponse struct {
	Error     string   `json:"error"`
	Available []string `json:"available"`
}

// Snapshots serves the summary of every token, or a single token's view
// when ?token= is set. The set is loaded fresh for every request.
func Snapshots(loader Loader, proj *query.Projector, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, err := loader.Load(r.Context())
		if err != nil {
			logger.Error("load snapshot set", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}

		id := r.URL.Query().Get("token")
		if id == "" {
			writeJSON(w, http.StatusOK, proj.Summary(set))
			return
		}

		view, err := proj.Token(set, id)
		var nf *query.NotFoundError
		switch {
		case errors.As(err, &nf):
			available := nf.Available
			if available == nil {
				available = []string{}
			}
			writeJSON(w, http.StatusNotFound, notFoundResponse{Error: nf.Error(), Available: available})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		default:
			writeJSON(w, http.StatusOK, view)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
