package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"untiscal/internal/cache"
	"untiscal/internal/config"
	"untiscal/internal/i18n"
	"untiscal/internal/ics"
	appLog "untiscal/internal/log"
	"untiscal/internal/metrics"
	"untiscal/internal/model"
)

// errNoLessons marks an empty timetable. It is answered with 404 and, being
// an error, is never cached.
var errNoLessons = errors.New("no lessons in range")

// LessonFetcher is the timetable pipeline. *timetable.Fetcher implements it.
type LessonFetcher interface {
	Fetch(ctx context.Context, user *config.User, start, end time.Time, filter *model.Filter) ([]model.Lesson, error)
}

// Server serves calendar feeds over HTTP.
type Server struct {
	store   *config.Store
	fetcher LessonFetcher
	feeds   *cache.Cache
	mux     *http.ServeMux

	// now is the clock for the date range and DTSTAMP.
	now func() time.Time
}

// NewServer constructs a new Server.
func NewServer(store *config.Store, fetcher LessonFetcher, feeds *cache.Cache) *Server {
	s := &Server{
		store:   store,
		fetcher: fetcher,
		feeds:   feeds,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// SetClock replaces the time source.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /timetable/{name}", s.handleTimetable)
	s.mux.HandleFunc("GET /timetable/{name}/{type}/{id}", s.handleTimetable)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleTimetable serves the feed for a user, optionally narrowed to one
// class, room, teacher or subject.
//
// GET /timetable/{name}[/{type}/{id}]?lang=de&cancelledDisplay=hide
//   - name: friendly name, case-insensitive
//   - type: class|room|teacher|subject; anything else means the own timetable
//   - lang: en|de, overrides the user's default and Accept-Language
func (s *Server) handleTimetable(w http.ResponseWriter, r *http.Request) {
	// One snapshot per request; a reload mid-request does not affect it.
	cfg := s.store.Snapshot()
	q := r.URL.Query()

	name := strings.ToLower(strings.TrimSpace(r.PathValue("name")))
	user := cfg.UserByName(name)

	userLang := ""
	if user != nil {
		userLang = user.Language
	}
	lang := i18n.Negotiate(q.Get("lang"), userLang, r.Header.Get("Accept-Language"))
	tr := i18n.For(lang)

	if user == nil {
		writeError(w, http.StatusNotFound, tr.T("errors.user_not_found"))
		return
	}
	if !authorized(user, r) {
		writeError(w, http.StatusUnauthorized, tr.T("errors.invalid_access_token"))
		return
	}

	var filter *model.Filter
	kindLabel := "own"
	id := strings.ToLower(strings.TrimSpace(r.PathValue("id")))
	if kind, ok := model.ParseFilterKind(r.PathValue("type")); ok && id != "" {
		filter = &model.Filter{Kind: kind, Identifier: id}
		kindLabel = string(kind)
	} else {
		id = ""
	}

	display := cancelledDisplay(q.Get("cancelledDisplay"), user.CancelledDisplay)
	key := cacheKey(user.Username, kindLabel, id, lang, display)

	title := user.FriendlyName
	filename := name
	if filter != nil {
		title = user.FriendlyName + " - " + kindLabel + " " + id
		filename = name + "-" + kindLabel + "-" + id
	}

	doc, hit, err := s.feeds.GetOrCreate(key, func() (string, error) {
		// The shared fetch outlives any single caller that gives up.
		ctx := context.WithoutCancel(r.Context())
		start, end := dateRange(cfg, s.now())

		appLog.Info("fetching timetable", "user", user.FriendlyName, "type", kindLabel, "id", id)
		lessons, err := s.fetcher.Fetch(ctx, user, start, end, filter)
		if err != nil {
			return "", err
		}
		if len(lessons) == 0 {
			return "", errNoLessons
		}
		return ics.Render(lessons, ics.Options{
			Location:         cfg.Location(),
			Title:            title,
			CancelledDisplay: display,
			Translator:       tr,
			Now:              s.now,
		})
	})
	if err != nil {
		s.writeFetchError(w, err, tr, user)
		return
	}

	appLog.Debug("timetable served", "user", user.FriendlyName, "key", key, "cache_hit", hit)
	sendICS(w, filename, doc)
}

func (s *Server) writeFetchError(w http.ResponseWriter, err error, tr i18n.Translator, user *config.User) {
	var resErr *model.ResolutionError
	switch {
	case errors.Is(err, errNoLessons):
		writeError(w, http.StatusNotFound, tr.T("errors.no_timetable"))
	case errors.As(err, &resErr):
		writeError(w, http.StatusNotFound, tr.T("errors.element_not_found")+": "+resErr.Identifier)
	default:
		appLog.Error("timetable request failed", err, "user", user.FriendlyName)
		writeError(w, http.StatusInternalServerError, tr.T("errors.fetch_error"))
	}
}

// cacheKey covers every input that changes the rendered document.
func cacheKey(username, kind, id, lang, display string) string {
	return strings.Join([]string{username, kind, id, lang, display}, ":")
}

func cancelledDisplay(query, userDefault string) string {
	switch strings.ToLower(query) {
	case config.CancelledHide, config.CancelledMark, config.CancelledShow:
		return strings.ToLower(query)
	}
	if userDefault != "" {
		return userDefault
	}
	return config.CancelledMark
}

// dateRange spans DaysBefore..DaysAfter around today in the configured zone.
func dateRange(cfg *config.Config, now time.Time) (time.Time, time.Time) {
	loc := cfg.Location()
	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, -cfg.DaysBefore), today.AddDate(0, 0, cfg.DaysAfter)
}

// authorized checks the user's access tokens, if any are configured.
func authorized(user *config.User, r *http.Request) bool {
	if len(user.AccessTokens) == 0 {
		return true
	}

	q := r.URL.Query()
	token := q.Get("access_token")
	if token == "" {
		token = q.Get("accessToken")
	}
	if token == "" {
		token = r.Header.Get("X-Access-Token")
	}
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return false
	}

	for _, allowed := range user.AccessTokens {
		if secureCompare(token, allowed) {
			return true
		}
	}
	return false
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func sendICS(w http.ResponseWriter, filename, doc string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename+".ics")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
