// internal/handlers/ops.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"autoref/internal/database"
	"autoref/internal/lobby"
)

// OpsServer exposes the read-only staff surface over the live lobby set and
// the provisioning entry point the scheduler posts due matches to.
type OpsServer struct {
	Supervisor *lobby.Supervisor
	Store      *database.PGStore
	Logger     *logrus.Logger
}

func NewOpsServer(s *lobby.Supervisor, store *database.PGStore, logger *logrus.Logger) *OpsServer {
	return &OpsServer{Supervisor: s, Store: store, Logger: logger}
}

// HealthHandler reports liveness. Unauthenticated.
func (o *OpsServer) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LobbiesHandler serves GET /lobbies and GET /lobbies/{roomID}.
func (o *OpsServer) LobbiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/lobbies"), "/")
	if roomID == "" {
		writeJSON(w, http.StatusOK, o.Supervisor.Snapshots())
		return
	}

	snap, err := o.Supervisor.Lookup(roomID)
	if err != nil {
		if errors.Is(err, lobby.ErrNotFound) {
			http.Error(w, "no live lobby for room "+roomID, http.StatusNotFound)
			return
		}
		o.Logger.Errorf("lobby lookup failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// provisionRequest is what the scheduler posts when a match comes due.
type provisionRequest struct {
	MatchID uuid.UUID `json:"match_id"`
}

// ProvisionHandler loads the match aggregate and takes it through room
// creation and setup. Failures are already persisted and paged by the
// supervisor; the response just mirrors the outcome.
func (o *OpsServer) ProvisionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MatchID == uuid.Nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := o.Store.LoadMatch(r.Context(), req.MatchID)
	if err != nil {
		o.Logger.Errorf("loading match %s failed: %v", req.MatchID, err)
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}

	l, err := o.Supervisor.Provision(r.Context(), m)
	if err != nil {
		if errors.Is(err, lobby.ErrCapacity) {
			http.Error(w, "no free lobby slot", http.StatusConflict)
			return
		}
		http.Error(w, "provisioning failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, l.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
