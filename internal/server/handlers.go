package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/egorin/apkhub/internal/scheduler"
	"github.com/egorin/apkhub/internal/version"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Load()
	if err != nil {
		log.Printf("[server] loading catalog: %v", err)
		writeError(w, http.StatusInternalServerError, "catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count := 0
	if c, err := s.store.Load(); err == nil {
		count = len(c.Apps)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   version.Version,
		"app_count": count,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	if !strings.HasSuffix(strings.ToLower(name), ".apk") ||
		strings.Contains(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, "..") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	path := filepath.Join(s.apkDir, name)
	if rel, err := filepath.Rel(s.apkDir, path); err != nil || strings.HasPrefix(rel, "..") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "no such package")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.android.package-archive")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}

// handleUpdate triggers one sweep. Callers must present the bot token in
// X-Auth-Token; with no token configured the endpoint stays closed.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	token := s.cfg.Bot.Token
	if token == "" || s.sweeper == nil {
		writeError(w, http.StatusForbidden, "update endpoint disabled")
		return
	}
	got := r.Header.Get("X-Auth-Token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
		writeError(w, http.StatusUnauthorized, "bad token")
		return
	}

	go func() {
		if _, err := s.sweeper.Sweep(context.Background()); err != nil && err != scheduler.ErrSweepInProgress {
			log.Printf("[server] sweep: %v", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep started"})
}
