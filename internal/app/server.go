package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the library and its sessions as a JSON API.
type Server struct {
	library   *Library
	stats     *StatsService
	shareBase string
	logger    *slog.Logger
}

// NewServer returns a server over library. Share links default to shareBase.
func NewServer(library *Library, stats *StatsService, shareBase string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{library: library, stats: stats, shareBase: shareBase, logger: logger}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.library.SessionCount()})
	})
	r.Get("/api/channels", s.handleChannels)
	r.Get("/api/channels/{channel}/clips", s.handleChannelClips)
	r.Get("/api/channels/{channel}/posters/{poster}", s.handlePosterClips)
	r.Get("/api/clips/{channel}/{id}", s.handleClip)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/assets/{category}/{id}", s.handleAsset)

	r.Post("/api/sessions", s.handleCreateSession)
	r.Route("/api/sessions/{id}", func(r chi.Router) {
		r.Use(s.withSession)
		r.Get("/", s.handleView)
		r.Delete("/", s.handleDropSession)
		r.Put("/channel", s.handleChannel)
		r.Put("/filters/{name}", s.handleSetFilter)
		r.Delete("/filters/{name}", s.handleResetFilter)
		r.Delete("/filters", s.handleResetAll)
		r.Post("/more", s.handleMore)
		r.Post("/scroll", s.handleScroll)
		r.Post("/visible", s.handleVisible)
		r.Post("/select", s.handleSelect)
		r.Post("/next", s.handleStep(func(g *Gallery) error { _, err := g.Next(); return err }))
		r.Post("/previous", s.handleStep(func(g *Gallery) error { _, err := g.Previous(); return err }))
		r.Post("/close", s.handleStep(func(g *Gallery) error { g.ClosePlayer(); return nil }))
		r.Post("/ended", s.handleStep(func(g *Gallery) error { _, err := g.Ended(); return err }))
		r.Put("/player", s.handlePlayer)
		r.Get("/share", s.handleShare)
	})
	return r
}

// ServeHTTP serves handler on addr until ctx is cancelled, then shuts down
// gracefully.
func ServeHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = srv.Close()
		return err
	}
	logger.Info("server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

type sessionKey struct{}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g, err := s.library.Session(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, g)))
	})
}

func sessionFrom(r *http.Request) *Gallery {
	return r.Context().Value(sessionKey{}).(*Gallery)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrClipNotFound), errors.Is(err, ErrPosterNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoActiveItem), errors.Is(err, ErrEmptyWorkingSet):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownFilter), errors.Is(err, ErrInvalidFilterValue),
		errors.Is(err, ErrUnknownChannel), errors.Is(err, ErrInvalidVolume):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.stats.GetChannelSummaries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

// clipViews formats stored clips; they carry no session decorations.
func (s *Server) clipViews(clips []ClipItem) []ClipView {
	now := s.stats.now()
	out := make([]ClipView, 0, len(clips))
	for _, c := range clips {
		out = append(out, NewClipView(c, now))
	}
	return out
}

func (s *Server) handleChannelClips(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "channel")
	ch, err := s.stats.store.GetChannel(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ch == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", ErrUnknownChannel, id))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
	}
	clips, err := s.stats.store.ListClipsByChannel(r.Context(), ch.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel": ChannelSummary{ID: ch.ID, Name: ch.Name, Slug: FormatChannelName(ch.Name), Clips: len(clips)},
		"clips":   s.clipViews(clips),
	})
}

func (s *Server) handlePosterClips(w http.ResponseWriter, r *http.Request) {
	clips, err := s.stats.GetPosterClips(r.Context(), chi.URLParam(r, "channel"), chi.URLParam(r, "poster"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.clipViews(clips))
}

func (s *Server) handleClip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	clip, err := s.stats.store.GetClip(r.Context(), chi.URLParam(r, "channel"), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if clip == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", ErrClipNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, NewClipView(*clip, s.stats.now()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.stats.GetSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	assets := s.library.Assets()
	if assets == nil {
		writeJSON(w, http.StatusOK, map[string]any{"url": nil})
		return
	}
	u, ok := assets.Resolve(r.Context(), chi.URLParam(r, "category"), chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"url": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": u})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	g, err := s.library.NewSession(ParseDeepLink(r.URL.Query()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, g.View())
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).View())
}

func (s *Server) handleDropSession(w http.ResponseWriter, r *http.Request) {
	if err := s.library.DropSession(sessionFrom(r).ID()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel string `json:"channel"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	g := sessionFrom(r)
	if err := g.SelectChannel(req.Channel); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, g.View())
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	g := sessionFrom(r)
	if err := g.SetFilter(chi.URLParam(r, "name"), req.Value); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, g.View())
}

func (s *Server) handleResetFilter(w http.ResponseWriter, r *http.Request) {
	g := sessionFrom(r)
	if err := g.ResetFilter(chi.URLParam(r, "name")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, g.View())
}

func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	g := sessionFrom(r)
	g.ResetAll()
	writeJSON(w, http.StatusOK, g.View())
}

func (s *Server) handleMore(w http.ResponseWriter, r *http.Request) {
	g := sessionFrom(r)
	g.LoadMore()
	writeJSON(w, http.StatusOK, g.View())
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	var sample ScrollSample
	if !decodeBody(w, r, &sample) {
		return
	}
	sessionFrom(r).Scroll(sample)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	fired := sessionFrom(r).Visible(req.IDs)
	writeJSON(w, http.StatusAccepted, map[string]bool{"prefetch": fired})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	g := sessionFrom(r)
	if err := g.Select(req.ID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, g.View())
}

func (s *Server) handleStep(step func(*Gallery) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g := sessionFrom(r)
		if err := step(g); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, g.View())
	}
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	var update PlayerUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	state, err := sessionFrom(r).UpdatePlayer(update)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("base")
	if base == "" {
		base = s.shareBase
	}
	link, err := sessionFrom(r).ShareLink(base)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}
