package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ip-tracker/config"
	"ip-tracker/geolocation"
	"ip-tracker/models"
)

type memoryStore struct {
	mu      sync.Mutex
	blocked map[string]bool
	logs    []models.RequestLog
}

func (m *memoryStore) IsBlocked(_ context.Context, ip string) (bool, error) {
	return m.blocked[ip], nil
}

func (m *memoryStore) CreateLog(_ context.Context, entry *models.RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *memoryStore) ListClassifications(context.Context, bool) ([]models.SuspiciousIP, error) {
	return nil, nil
}

func newHandler(store *memoryStore, cfg config.Config) http.Handler {
	logger := log.New(io.Discard)
	resolver := geolocation.NewResolver(nil, nil, 0, logger)
	return SetupRoutes(cfg, store, resolver, logger)
}

func get(h http.Handler, path, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestUnmatchedPathsAreLogged(t *testing.T) {
	store := &memoryStore{blocked: map[string]bool{}}
	h := newHandler(store, config.Default())

	w := get(h, "/login", "192.0.2.1:1000")

	assert.Equal(t, http.StatusNotFound, w.Code)
	require.Len(t, store.logs, 1)
	assert.Equal(t, "/login", store.logs[0].Path)
}

func TestBlockedIPNeverReachesRouter(t *testing.T) {
	store := &memoryStore{blocked: map[string]bool{"192.0.2.66": true}}
	h := newHandler(store, config.Default())

	assert.Equal(t, http.StatusForbidden, get(h, "/", "192.0.2.66:1000").Code)
	assert.Equal(t, http.StatusForbidden, get(h, "/nowhere", "192.0.2.66:1000").Code)
	assert.Empty(t, store.logs)
}

func TestHomeAndAdminListing(t *testing.T) {
	store := &memoryStore{blocked: map[string]bool{}}
	h := newHandler(store, config.Default())

	home := get(h, "/", "192.0.2.1:1000")
	assert.Equal(t, http.StatusOK, home.Code)
	assert.Equal(t, "Welcome to IP Tracking System", home.Body.String())

	admin := get(h, "/admin/suspicious-ips", "192.0.2.1:1000")
	assert.Equal(t, http.StatusOK, admin.Code)
	assert.JSONEq(t, "[]", admin.Body.String())
	assert.Len(t, store.logs, 2)
}

func TestAdminRoutesAreRateLimited(t *testing.T) {
	cfg := config.Default()
	cfg.AdminRateLimit = 1
	cfg.AdminRateBurst = 1
	store := &memoryStore{blocked: map[string]bool{}}
	h := newHandler(store, cfg)

	assert.Equal(t, http.StatusOK, get(h, "/admin/suspicious-ips", "192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, "/admin/suspicious-ips", "192.0.2.1:1000").Code)
	assert.Len(t, store.logs, 2)
}
