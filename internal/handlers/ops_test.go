// internal/handlers/ops_test.go
package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoref/internal/auth"
	"autoref/internal/lobby"
	"autoref/internal/middleware"
	"autoref/internal/models"
)

func testOpsServer() *OpsServer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	reg := lobby.NewRegistry(map[models.MatchKind]int{models.KindTryout: 1})
	s := &lobby.Supervisor{Registry: reg, Logger: logger}
	return NewOpsServer(s, nil, logger)
}

func TestHealthHandler(t *testing.T) {
	o := testOpsServer()
	rec := httptest.NewRecorder()
	o.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestLobbiesHandlerEmptyList(t *testing.T) {
	o := testOpsServer()
	rec := httptest.NewRecorder()
	o.LobbiesHandler(rec, httptest.NewRequest(http.MethodGet, "/lobbies", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snaps []lobby.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	assert.Empty(t, snaps)
}

func TestLobbiesHandlerUnknownRoom(t *testing.T) {
	o := testOpsServer()
	rec := httptest.NewRecorder()
	o.LobbiesHandler(rec, httptest.NewRequest(http.MethodGet, "/lobbies/12345", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLobbiesHandlerRejectsNonGet(t *testing.T) {
	o := testOpsServer()
	rec := httptest.NewRecorder()
	o.LobbiesHandler(rec, httptest.NewRequest(http.MethodDelete, "/lobbies", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProvisionHandlerRejectsBadBody(t *testing.T) {
	o := testOpsServer()

	rec := httptest.NewRecorder()
	o.ProvisionHandler(rec, httptest.NewRequest(http.MethodPost, "/matches/provision", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	o.ProvisionHandler(rec, httptest.NewRequest(http.MethodPost, "/matches/provision", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	o.ProvisionHandler(rec, httptest.NewRequest(http.MethodGet, "/matches/provision", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// An issued service token must be accepted by the gate protecting the ops
// routes; anything else is rejected.
func TestRequireTokenAcceptsIssuedToken(t *testing.T) {
	auth.Init()
	token, err := auth.CreateServiceToken("scheduler")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	o := testOpsServer()
	protected := middleware.RequireToken(logger)(http.HandlerFunc(o.LobbiesHandler))

	req := httptest.NewRequest(http.MethodGet, "/lobbies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "scheduler", req.Header.Get("X-Service"))

	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lobbies", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bad := httptest.NewRequest(http.MethodGet, "/lobbies", nil)
	bad.Header.Set("Authorization", "Bearer not.a.token")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOpsHubFanout(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	h := NewOpsHub(logger)

	a := h.subscribe()
	b := h.subscribe()
	defer h.unsubscribe(a)
	defer h.unsubscribe(b)

	h.Publish(lobby.OpsEvent{Type: "state", RoomID: "100", At: time.Now()})

	for _, ch := range []chan lobby.OpsEvent{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, "100", ev.RoomID)
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestOpsHubSlowSubscriberDropsNotBlocks(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	h := NewOpsHub(logger)

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(lobby.OpsEvent{Type: "state"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
