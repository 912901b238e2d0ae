package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	var limit *int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			limit = &value
		}
	}

	s.mu.Lock()
	response := s.rankingStore.BuildResponse(limit)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Debug().Err(err).Msg("ranking response write failed")
	}
}

// staticHandler serves the client bundle, falling back to index.html for
// client-side routes. Without a bundle on disk it answers 404.
func (s *Server) staticHandler() http.Handler {
	root := s.resolveStaticDir()
	if root == "" {
		s.log.Warn().Msg("static file root not found; serving API only")
		return http.NotFoundHandler()
	}
	s.log.Info().Str("dir", root).Msg("serving static files")

	fileServer := http.FileServer(http.Dir(root))
	index := filepath.Join(root, "index.html")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(root, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, index)
	})
}

func (s *Server) resolveStaticDir() string {
	candidates := []string{s.config.StaticDir, "dist/client"}
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(filepath.Join(dir, "index.html")); err == nil && !info.IsDir() {
			return dir
		}
	}
	return ""
}
