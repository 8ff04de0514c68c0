package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/codeduet/backend/internal/db"
	"github.com/codeduet/backend/internal/session"
)

func setupTestAPI(t *testing.T) (*API, *session.Store, *db.Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "codeduet-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	database, err := db.New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	store := session.NewStore()
	api := New(store, database, nil)

	cleanup := func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}

	return api, store, database, cleanup
}

func TestHealthHandler(t *testing.T) {
	api, _, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	api.HealthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestCreateSession(t *testing.T) {
	api, store, _, cleanup := setupTestAPI(t)
	defer cleanup()

	body, _ := json.Marshal(CreateSessionRequest{Title: "Demo", Language: "javascript", IsPublic: true})
	req := httptest.NewRequest("POST", "/api/sessions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	api.CreateSessionHandler(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	var response SessionResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.SessionID == "" {
		t.Fatal("Expected a session id")
	}
	if response.Title != "Demo" || response.Language != "javascript" || !response.IsPublic {
		t.Errorf("Unexpected response: %+v", response)
	}

	if _, ok := store.Get(response.SessionID); !ok {
		t.Error("Created session should be live in the store")
	}
}

func TestCreateSessionDefaultsLanguage(t *testing.T) {
	api, _, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("POST", "/api/sessions", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	api.CreateSessionHandler(w, req)

	var response SessionResponse
	json.NewDecoder(w.Body).Decode(&response)
	if response.Language != defaultLanguage {
		t.Errorf("Expected default language, got %q", response.Language)
	}
}

func TestCreateSessionBadBody(t *testing.T) {
	api, _, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("POST", "/api/sessions", bytes.NewReader([]byte(`{`)))
	w := httptest.NewRecorder()

	api.CreateSessionHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestGetSessionMeta(t *testing.T) {
	api, store, _, cleanup := setupTestAPI(t)
	defer cleanup()

	sess := store.Create("Demo", "go", false)

	req := httptest.NewRequest("GET", "/api/sessions/"+sess.ID(), nil)
	w := httptest.NewRecorder()

	api.GetSessionHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response SessionResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.SessionID != sess.ID() || response.Title != "Demo" || response.Language != "go" {
		t.Errorf("Unexpected meta: %+v", response)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	api, _, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/sessions/nope", nil)
	w := httptest.NewRecorder()

	api.GetSessionHandler(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestGetSessionRevivesFromSnapshot(t *testing.T) {
	api, store, database, cleanup := setupTestAPI(t)
	defer cleanup()

	if err := database.SaveSnapshot("persisted-1", "Old", "print(1)", "python", true); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/sessions/persisted-1", nil)
	w := httptest.NewRecorder()

	api.GetSessionHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	sess, ok := store.Get("persisted-1")
	if !ok {
		t.Fatal("Session should be live after revival")
	}
	if sess.Document() != "print(1)" || sess.Language() != "python" {
		t.Errorf("Revived state wrong: %q %q", sess.Document(), sess.Language())
	}
}

func TestListSessionsPublicOnly(t *testing.T) {
	api, store, _, cleanup := setupTestAPI(t)
	defer cleanup()

	store.Create("open", "go", true)
	store.Create("closed", "go", false)

	req := httptest.NewRequest("GET", "/api/sessions", nil)
	w := httptest.NewRecorder()

	api.ListSessionsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Sessions []SessionResponse `json:"sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Sessions) != 1 || response.Sessions[0].Title != "open" {
		t.Errorf("Expected only the public session, got %+v", response.Sessions)
	}
}

func TestDeleteSession(t *testing.T) {
	api, store, database, cleanup := setupTestAPI(t)
	defer cleanup()

	sess := store.Create("Demo", "go", false)
	if err := database.SaveSnapshot(sess.ID(), "Demo", "print(1)", "go", false); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	req := httptest.NewRequest("DELETE", "/api/sessions/"+sess.ID(), nil)
	w := httptest.NewRecorder()

	api.SessionsRouter(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	if _, ok := store.Get(sess.ID()); ok {
		t.Error("Deleted session should not be live")
	}

	snap, err := database.GetSnapshot(sess.ID())
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if snap != nil {
		t.Error("Deleted session should have no snapshot left to revive from")
	}

	// A follow-up lookup must 404 rather than revive.
	req = httptest.NewRequest("GET", "/api/sessions/"+sess.ID(), nil)
	w = httptest.NewRecorder()
	api.GetSessionHandler(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", w.Code)
	}
}

func TestDeleteSessionNotFound(t *testing.T) {
	api, _, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("DELETE", "/api/sessions/nope", nil)
	w := httptest.NewRecorder()

	api.SessionsRouter(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestRecentSessions(t *testing.T) {
	api, _, database, cleanup := setupTestAPI(t)
	defer cleanup()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := database.SaveSnapshot(id, "Title "+id, "", "go", true); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
	}

	req := httptest.NewRequest("GET", "/api/sessions/recent?limit=2", nil)
	w := httptest.NewRecorder()

	api.SessionsRouter(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Sessions []SnapshotResponse `json:"sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Sessions) != 2 {
		t.Errorf("Expected 2 sessions with limit=2, got %d", len(response.Sessions))
	}
	for _, s := range response.Sessions {
		if s.SessionID == "" || s.UpdatedAt == "" {
			t.Errorf("Incomplete entry: %+v", s)
		}
	}
}

func TestStatsHandler(t *testing.T) {
	api, store, _, cleanup := setupTestAPI(t)
	defer cleanup()

	store.Create("a", "go", false)

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()

	api.StatsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["active_sessions"] != float64(1) {
		t.Errorf("Expected 1 active session, got %v", response["active_sessions"])
	}
}

func TestSessionsRouterMethods(t *testing.T) {
	api, _, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("DELETE", "/api/sessions", nil)
	w := httptest.NewRecorder()

	api.SessionsRouter(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}
