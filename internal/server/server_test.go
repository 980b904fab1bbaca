package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egorin/apkhub/internal/catalog"
	"github.com/egorin/apkhub/internal/config"
	"github.com/egorin/apkhub/internal/scheduler"
)

type fakeSweeper struct {
	called chan struct{}
}

func (f *fakeSweeper) Sweep(ctx context.Context) (scheduler.Summary, error) {
	f.called <- struct{}{}
	return scheduler.Summary{}, nil
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *config.Config, *catalog.Store) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir: dir,
		Domain:  "https://apps.example.com",
		Service: config.ServiceConfig{
			BindAddress:      "127.0.0.1",
			Port:             8000,
			RatePerMinute:    60,
			APKRatePerMinute: 30,
		},
	}

	store := catalog.NewStore(cfg.CatalogPath())
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.CatalogPath()), 0755))
	require.NoError(t, store.Save(&catalog.Catalog{Apps: []catalog.App{
		{Title: "Cool", URL: "https://apps.example.com/apks/Cool.apk", Version: "1.0.0"},
	}}))

	require.NoError(t, os.MkdirAll(cfg.APKDir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.APKDir(), "Cool.apk"), []byte("apk bytes"), 0644))

	s := New(cfg, store, opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, cfg, store
}

func TestCatalogRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var c catalog.Catalog
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	require.Len(t, c.Apps, 1)
	assert.Equal(t, "Cool", c.Apps[0].Title)
}

func TestHealthRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["app_count"])
}

func TestDownloadRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/apks/Cool.apk")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.android.package-archive", resp.Header.Get("Content-Type"))

	resp, err = http.Get(srv.URL + "/apks/missing.apk")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/apks/secrets.txt")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUpdateRouteAuth(t *testing.T) {
	sw := &fakeSweeper{called: make(chan struct{}, 1)}
	srv, cfg, _ := newTestServer(t, WithSweeper(sw))

	// No token configured: endpoint is closed.
	resp, err := http.Post(srv.URL+"/update", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	cfg.Bot.Token = "sekret"

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/update", nil)
	req.Header.Set("X-Auth-Token", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/update", nil)
	req.Header.Set("X-Auth-Token", "sekret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case <-sw.called:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep was not triggered")
	}
}

func TestRateLimit(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir: dir,
		Service: config.ServiceConfig{
			BindAddress:      "127.0.0.1",
			Port:             8000,
			RatePerMinute:    1,
			APKRatePerMinute: 1,
		},
	}
	store := catalog.NewStore(cfg.CatalogPath())
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.CatalogPath()), 0755))
	require.NoError(t, store.Save(&catalog.Catalog{}))

	srv := httptest.NewServer(New(cfg, store).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
