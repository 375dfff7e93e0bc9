package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"untiscal/internal/cache"
	"untiscal/internal/config"
	"untiscal/internal/model"
)

type fetchCall struct {
	username   string
	start, end time.Time
	filter     *model.Filter
}

type fakeFetcher struct {
	mu      sync.Mutex
	lessons []model.Lesson
	err     error
	calls   []fetchCall
}

func (f *fakeFetcher) Fetch(_ context.Context, user *config.User, start, end time.Time, filter *model.Filter) ([]model.Lesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{username: user.Username, start: start, end: end, filter: filter})
	return f.lessons, f.err
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) last() fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

var now = time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

func sampleLessons() []model.Lesson {
	return []model.Lesson{{
		Date:     time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		Start:    800,
		End:      845,
		Subject:  "MA",
		Teachers: []string{"Mül"},
		Room:     "R101",
		Classes:  []string{"7A"},
		Status:   model.StatusConfirmed,
	}}
}

func newTestServer(t *testing.T, f *fakeFetcher) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Users = []config.User{
		{School: "demo", Username: "anna", Password: "pw", BaseURL: "demo.webuntis.com", FriendlyName: "Anna"},
		{School: "demo", Username: "ben", Password: "pw", BaseURL: "demo.webuntis.com", FriendlyName: "Ben", Language: "de", AccessTokens: []string{"s3cret"}},
	}
	cfg.Normalize()

	feeds := cache.New(cfg.CacheTTL())
	feeds.SetClock(func() time.Time { return now })

	s := NewServer(config.NewStore("", cfg), f, feeds)
	s.SetClock(func() time.Time { return now })
	return s
}

func get(t *testing.T, s *Server, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeFetcher{})
	rec := get(t, s, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	s := newTestServer(t, &fakeFetcher{})
	rec := get(t, s, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "untiscal_")
}

func TestUnknownUser(t *testing.T) {
	f := &fakeFetcher{}
	s := newTestServer(t, f)

	rec := get(t, s, "/timetable/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", rec.Body.String())

	rec = get(t, s, "/timetable/nobody", map[string]string{"Accept-Language": "de-DE,de;q=0.9"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Benutzer nicht gefunden", rec.Body.String())

	assert.Zero(t, f.count())
}

func TestAccessToken(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{name: "missing", target: "/timetable/ben", want: http.StatusUnauthorized},
		{name: "wrong", target: "/timetable/ben?access_token=nope", want: http.StatusUnauthorized},
		{name: "query", target: "/timetable/ben?access_token=s3cret", want: http.StatusOK},
		{name: "camel query", target: "/timetable/ben?accessToken=s3cret", want: http.StatusOK},
		{name: "header", target: "/timetable/ben", header: map[string]string{"X-Access-Token": "s3cret"}, want: http.StatusOK},
		{name: "bearer", target: "/timetable/ben", header: map[string]string{"Authorization": "Bearer s3cret"}, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, &fakeFetcher{lessons: sampleLessons()})
			rec := get(t, s, tc.target, tc.header)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestUnauthorizedIsLocalized(t *testing.T) {
	s := newTestServer(t, &fakeFetcher{})
	rec := get(t, s, "/timetable/ben", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Ungültiger oder fehlender Zugriffstoken", rec.Body.String())
}

func TestOwnTimetable(t *testing.T) {
	f := &fakeFetcher{lessons: sampleLessons()}
	s := newTestServer(t, f)

	rec := get(t, s, "/timetable/ANNA", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=anna.ics", rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "BEGIN:VCALENDAR"))
	assert.Contains(t, rec.Body.String(), "SUMMARY:MA (Mül) - (7A)")

	require.Equal(t, 1, f.count())
	call := f.last()
	assert.Equal(t, "anna", call.username)
	assert.Nil(t, call.filter)

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	assert.True(t, call.start.Equal(time.Date(2025, 2, 26, 0, 0, 0, 0, berlin)), call.start)
	assert.True(t, call.end.Equal(time.Date(2025, 4, 2, 0, 0, 0, 0, berlin)), call.end)
}

func TestRepeatedRequestServedFromCache(t *testing.T) {
	f := &fakeFetcher{lessons: sampleLessons()}
	s := newTestServer(t, f)

	first := get(t, s, "/timetable/anna", nil)
	second := get(t, s, "/timetable/anna", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, f.count())

	// Language and display mode are part of the key.
	get(t, s, "/timetable/anna?lang=de", nil)
	get(t, s, "/timetable/anna?cancelledDisplay=hide", nil)
	assert.Equal(t, 3, f.count())
}

func TestFilteredTimetable(t *testing.T) {
	f := &fakeFetcher{lessons: sampleLessons()}
	s := newTestServer(t, f)

	rec := get(t, s, "/timetable/anna/class/7A", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "attachment; filename=anna-class-7a.ics", rec.Header().Get("Content-Disposition"))

	call := f.last()
	require.NotNil(t, call.filter)
	assert.Equal(t, model.Filter{Kind: model.KindClass, Identifier: "7a"}, *call.filter)
}

func TestUnknownFilterTypeFallsBackToOwn(t *testing.T) {
	f := &fakeFetcher{lessons: sampleLessons()}
	s := newTestServer(t, f)

	rec := get(t, s, "/timetable/anna/building/B1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=anna.ics", rec.Header().Get("Content-Disposition"))
	assert.Nil(t, f.last().filter)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name     string
		lessons  []model.Lesson
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "empty",
			wantCode: http.StatusNotFound,
			wantBody: "No timetable found for this period",
		},
		{
			name:     "unresolved element",
			err:      &model.ResolutionError{Kind: model.KindRoom, Identifier: "r999"},
			wantCode: http.StatusNotFound,
			wantBody: "Requested element not found: r999",
		},
		{
			name:     "auth",
			err:      &model.AuthError{Username: "anna", Err: errors.New("bad credentials")},
			wantCode: http.StatusInternalServerError,
			wantBody: "Failed to fetch timetable",
		},
		{
			name:     "remote",
			err:      &model.FetchError{Op: "own timetable", Err: errors.New("boom")},
			wantCode: http.StatusInternalServerError,
			wantBody: "Failed to fetch timetable",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeFetcher{lessons: tc.lessons, err: tc.err}
			s := newTestServer(t, f)

			rec := get(t, s, "/timetable/anna", nil)
			assert.Equal(t, tc.wantCode, rec.Code)
			assert.Equal(t, tc.wantBody, rec.Body.String())

			// Failures are not cached.
			get(t, s, "/timetable/anna", nil)
			assert.Equal(t, 2, f.count())
		})
	}
}

func TestCancelledDisplay(t *testing.T) {
	assert.Equal(t, config.CancelledHide, cancelledDisplay("HIDE", config.CancelledShow))
	assert.Equal(t, config.CancelledShow, cancelledDisplay("", config.CancelledShow))
	assert.Equal(t, config.CancelledShow, cancelledDisplay("bogus", config.CancelledShow))
	assert.Equal(t, config.CancelledMark, cancelledDisplay("", ""))
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "abcd"))
}
