// Package api is the request/response surface around the engine: session
// creation and metadata lookup used before a client opens its persistent
// connection, plus health and stats.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codeduet/backend/internal/db"
	"github.com/codeduet/backend/internal/session"
)

const defaultLanguage = "plaintext"

// Attacher hooks newly created sessions up to the cross-node bridge.
type Attacher interface {
	Attach(s *session.Session)
}

type API struct {
	store    *session.Store
	database *db.Database
	bridge   Attacher // may be nil
}

func New(store *session.Store, database *db.Database, bridge Attacher) *API {
	return &API{
		store:    store,
		database: database,
		bridge:   bridge,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_sessions": a.store.Count(),
		"active_clients":  a.store.ClientCount(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["persisted_sessions"] = dbStats["snapshot_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Session handlers

type SessionResponse struct {
	SessionID   string `json:"session_id"`
	Title       string `json:"title"`
	Language    string `json:"language"`
	IsPublic    bool   `json:"is_public"`
	ActiveUsers int    `json:"active_users"`
}

type CreateSessionRequest struct {
	Title    string `json:"title"`
	Language string `json:"language"`
	IsPublic bool   `json:"is_public"`
}

func (a *API) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Language == "" {
		req.Language = defaultLanguage
	}

	sess := a.store.Create(req.Title, req.Language, req.IsPublic)
	if a.bridge != nil {
		a.bridge.Attach(sess)
	}

	if a.database != nil {
		if err := a.database.SaveSnapshot(sess.ID(), sess.Title(), "", sess.Language(), sess.IsPublic()); err != nil {
			log.Printf("Failed to persist new session %s: %v", sess.ID(), err)
		}
	}

	jsonResponse(w, http.StatusCreated, SessionResponse{
		SessionID: sess.ID(),
		Title:     sess.Title(),
		Language:  sess.Language(),
		IsPublic:  sess.IsPublic(),
	})
}

// GetSessionHandler returns the non-realtime metadata a client reads before
// opening its persistent connection.
func (a *API) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	sessionID := strings.TrimSuffix(path, "/")

	if sessionID == "" {
		errorResponse(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	sess, ok := a.store.Get(sessionID)
	if !ok {
		sess = a.reviveSession(sessionID)
	}
	if sess == nil {
		errorResponse(w, http.StatusNotFound, "Session not found")
		return
	}

	jsonResponse(w, http.StatusOK, SessionResponse{
		SessionID:   sess.ID(),
		Title:       sess.Title(),
		Language:    sess.Language(),
		IsPublic:    sess.IsPublic(),
		ActiveUsers: sess.ParticipantCount(),
	})
}

// reviveSession brings a persisted session back into the live store, or
// returns nil when no snapshot exists.
func (a *API) reviveSession(sessionID string) *session.Session {
	if a.database == nil {
		return nil
	}
	snap, err := a.database.GetSnapshot(sessionID)
	if err != nil {
		log.Printf("Snapshot lookup failed for session %s: %v", sessionID, err)
		return nil
	}
	if snap == nil {
		return nil
	}
	sess := a.store.Restore(snap.ID, snap.Title, snap.Document, snap.Language, snap.IsPublic)
	if a.bridge != nil {
		a.bridge.Attach(sess)
	}
	return sess
}

// DeleteSessionHandler destroys a session: it is removed from the live store
// and its persisted snapshot is deleted, so the id can no longer be revived.
func (a *API) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	sessionID := strings.TrimSuffix(path, "/")

	if sessionID == "" {
		errorResponse(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	_, live := a.store.Get(sessionID)

	persisted := false
	if a.database != nil {
		snap, err := a.database.GetSnapshot(sessionID)
		if err != nil {
			log.Printf("Snapshot lookup failed for session %s: %v", sessionID, err)
			errorResponse(w, http.StatusInternalServerError, "Failed to delete session")
			return
		}
		persisted = snap != nil
	}

	if !live && !persisted {
		errorResponse(w, http.StatusNotFound, "Session not found")
		return
	}

	a.store.Delete(sessionID)
	if a.database != nil && persisted {
		if err := a.database.DeleteSnapshot(sessionID); err != nil {
			log.Printf("Failed to delete snapshot for session %s: %v", sessionID, err)
			errorResponse(w, http.StatusInternalServerError, "Failed to delete session")
			return
		}
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}

// SnapshotResponse is the persisted-session form returned by the recent list.
type SnapshotResponse struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Language  string `json:"language"`
	IsPublic  bool   `json:"is_public"`
	UpdatedAt string `json:"updated_at"`
}

// RecentSessionsHandler lists persisted sessions by most recent activity,
// live or not.
func (a *API) RecentSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		jsonResponse(w, http.StatusOK, map[string]interface{}{"sessions": []SnapshotResponse{}})
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	snapshots, err := a.database.ListSnapshots(limit, offset)
	if err != nil {
		log.Printf("Failed to list snapshots: %v", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := make([]SnapshotResponse, len(snapshots))
	for i, snap := range snapshots {
		response[i] = SnapshotResponse{
			SessionID: snap.ID,
			Title:     snap.Title,
			Language:  snap.Language,
			IsPublic:  snap.IsPublic,
			UpdatedAt: snap.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"sessions": response,
	})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return n
		}
	}
	return defaultValue
}

// ListSessionsHandler returns the live sessions open to anonymous lookup.
func (a *API) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	public := a.store.Public()
	response := make([]SessionResponse, len(public))
	for i, sess := range public {
		response[i] = SessionResponse{
			SessionID:   sess.ID(),
			Title:       sess.Title(),
			Language:    sess.Language(),
			IsPublic:    true,
			ActiveUsers: sess.ParticipantCount(),
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"sessions": response,
	})
}

func (a *API) SessionsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")

	// /api/sessions or /api/sessions/
	if path == "" || path == "/" {
		switch r.Method {
		case http.MethodGet:
			a.ListSessionsHandler(w, r)
		case http.MethodPost:
			a.CreateSessionHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/sessions/recent
	if path == "/recent" || path == "/recent/" {
		if r.Method != http.MethodGet {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.RecentSessionsHandler(w, r)
		return
	}

	// /api/sessions/{id}
	switch r.Method {
	case http.MethodGet:
		a.GetSessionHandler(w, r)
	case http.MethodDelete:
		a.DeleteSessionHandler(w, r)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
