package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egorin/apkhub/internal/catalog"
)

func TestResolveDirect(t *testing.T) {
	r := NewResolver()
	app := &catalog.App{
		Title:        "thing",
		SourceMethod: catalog.MethodDirect,
		SourceUpdate: "https://example.com/thing.apk",
	}
	url, err := r.Resolve(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/thing.apk", url)
}

func TestResolveGitHubRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"tag_name": "v1.2.0",
			"assets": [
				{"name": "thing-x86.apk", "browser_download_url": "https://dl/x86.apk"},
				{"name": "thing-arm64.apk", "browser_download_url": "https://dl/arm64.apk"}
			]
		}`))
	}))
	defer srv.Close()

	r := NewResolver()
	app := &catalog.App{
		Title:        "thing",
		SourceMethod: catalog.MethodGitHubRelease,
		SourceUpdate: srv.URL,
		SourceFilter: "arm64",
	}
	url, err := r.Resolve(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, "https://dl/arm64.apk", url)
}

func TestResolveGitLabRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"assets": {"assets": [
				{"name": "app-release.apk", "url": "https://gl/app.apk"}
			]}
		}`))
	}))
	defer srv.Close()

	r := NewResolver()
	app := &catalog.App{
		Title:        "thing",
		SourceMethod: catalog.MethodGitLabRelease,
		SourceUpdate: srv.URL,
		SourceFilter: `\.apk$`,
	}
	url, err := r.Resolve(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, "https://gl/app.apk", url)
}

func TestResolveReleaseRequiresFilter(t *testing.T) {
	r := NewResolver()
	app := &catalog.App{
		Title:        "thing",
		SourceMethod: catalog.MethodGitHubRelease,
		SourceUpdate: "https://api.github.com/x",
	}
	_, err := r.Resolve(context.Background(), app)
	var re *ResolveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ReasonMissingFilter, re.Reason)
}

func TestResolveReleaseNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"assets": [{"name": "readme.txt", "browser_download_url": "https://dl/r"}]}`))
	}))
	defer srv.Close()

	r := NewResolver()
	app := &catalog.App{
		Title:        "thing",
		SourceMethod: catalog.MethodGitHubRelease,
		SourceUpdate: srv.URL,
		SourceFilter: `\.apk$`,
	}
	_, err := r.Resolve(context.Background(), app)
	var re *ResolveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ReasonNoAssetMatch, re.Reason)
}

func TestResolveReleaseAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r := NewResolver()
	app := &catalog.App{
		Title:        "thing",
		SourceMethod: catalog.MethodGitHubRelease,
		SourceUpdate: srv.URL,
		SourceFilter: ".",
	}
	_, err := r.Resolve(context.Background(), app)
	var re *ResolveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ReasonAPIError, re.Reason)
}

func TestResolveCustom(t *testing.T) {
	r := NewResolver()
	app := &catalog.App{
		Title:        "thing",
		SourceMethod: catalog.MethodCustom,
		SourceUpdate: `printf 'https://example.com/latest.apk\nnoise\n'`,
	}
	url, err := r.Resolve(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/latest.apk", url)
}

func TestResolveCustomRejectsNonURL(t *testing.T) {
	r := NewResolver()
	app := &catalog.App{
		Title:        "thing",
		SourceMethod: catalog.MethodCustom,
		SourceUpdate: `echo not-a-url`,
	}
	_, err := r.Resolve(context.Background(), app)
	var re *ResolveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ReasonBadCommand, re.Reason)
}

func TestResolveUnknownMethod(t *testing.T) {
	r := NewResolver()
	app := &catalog.App{Title: "thing", SourceMethod: "svn"}
	_, err := r.Resolve(context.Background(), app)
	var re *ResolveError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResolveError, got %v", err)
	}
	assert.Equal(t, ReasonUnknownMethod, re.Reason)
}
