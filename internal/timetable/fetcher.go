// Package timetable builds a user's merged lesson list from WebUntis.
package timetable

import (
	"context"
	"errors"
	"time"

	"untiscal/internal/config"
	appLog "untiscal/internal/log"
	"untiscal/internal/merge"
	"untiscal/internal/metrics"
	"untiscal/internal/model"
	"untiscal/internal/untis"
)

// Service is the data half of the timetable service. *untis.Client
// implements it.
type Service interface {
	OwnTimetable(ctx context.Context, s *untis.Session, start, end time.Time) ([]untis.RawEntry, error)
	Timetable(ctx context.Context, s *untis.Session, start, end time.Time, id int, kind untis.ElementType) ([]untis.RawEntry, error)
	Catalog(ctx context.Context, s *untis.Session, kind untis.ElementType) ([]untis.CatalogItem, error)
	TimeGrid(ctx context.Context, s *untis.Session) ([]untis.TimeGridDay, error)
}

// Sessions hands out and revokes logins. *session.Pool implements it.
type Sessions interface {
	Acquire(ctx context.Context, user *config.User) (*untis.Session, error)
	InvalidateHandle(ctx context.Context, user *config.User, h *untis.Session)
}

// Fetcher runs the acquire, resolve, retrieve, normalize, bound and merge
// sequence for one request.
type Fetcher struct {
	sessions Sessions
	service  Service
}

// NewFetcher creates a Fetcher.
func NewFetcher(sessions Sessions, service Service) *Fetcher {
	return &Fetcher{sessions: sessions, service: service}
}

// Fetch returns the merged lessons between start and end for user, or for
// the element named by filter when it is non-nil.
//
// Errors are *model.AuthError (login rejected), *model.ResolutionError
// (filter matches nothing) or *model.FetchError (any other remote failure).
// After a FetchError the user's session has been invalidated. An empty
// result is not an error.
func (f *Fetcher) Fetch(ctx context.Context, user *config.User, start, end time.Time, filter *model.Filter) ([]model.Lesson, error) {
	s, err := f.sessions.Acquire(ctx, user)
	if err != nil {
		return nil, err
	}

	lessons, err := f.fetch(ctx, s, start, end, filter)
	if err != nil {
		var resErr *model.ResolutionError
		if errors.As(err, &resErr) {
			return nil, err
		}
		var fe *model.FetchError
		if errors.As(err, &fe) {
			metrics.FetchErrors.WithLabelValues(fe.Op).Inc()
		}
		appLog.Error("timetable fetch failed; invalidating session", err, "user", user.Username)
		f.sessions.InvalidateHandle(ctx, user, s)
		return nil, err
	}

	metrics.LessonsServed.Observe(float64(len(lessons)))
	return lessons, nil
}

func (f *Fetcher) fetch(ctx context.Context, s *untis.Session, start, end time.Time, filter *model.Filter) ([]model.Lesson, error) {
	var (
		raw []untis.RawEntry
		err error
	)
	if filter == nil {
		raw, err = f.service.OwnTimetable(ctx, s, start, end)
		if err != nil {
			return nil, &model.FetchError{Op: "own timetable", Err: err}
		}
	} else {
		kind, id, rerr := f.resolve(ctx, s, *filter)
		if rerr != nil {
			return nil, rerr
		}
		raw, err = f.service.Timetable(ctx, s, start, end, id, kind)
		if err != nil {
			return nil, &model.FetchError{Op: "element timetable", Err: err}
		}
	}

	lessons := make([]model.Lesson, 0, len(raw))
	skipped := 0
	for _, e := range raw {
		if IsPlaceholder(e) {
			skipped++
			continue
		}
		l, ok := Normalize(e)
		if !ok {
			appLog.Warn("skipping timetable entry with invalid date", "id", e.ID, "date", e.Date)
			continue
		}
		lessons = append(lessons, l)
	}

	grid, err := f.service.TimeGrid(ctx, s)
	if err != nil {
		return nil, &model.FetchError{Op: "time grid", Err: err}
	}
	bounds := Bounds(grid)
	if bounds == (model.Bounds{}) && len(lessons) > 0 {
		// Merging against {0,0} drops every lesson. Kept as is; see DESIGN.md.
		appLog.Warn("time grid has no units; all lessons will be dropped", "lessons", len(lessons))
	}

	merged := merge.Merge(lessons, bounds)
	appLog.Debug("timetable fetched",
		"raw", len(raw),
		"placeholders", skipped,
		"merged", len(merged),
		"day_start", bounds.Start,
		"day_end", bounds.End,
	)
	return merged, nil
}

func (f *Fetcher) resolve(ctx context.Context, s *untis.Session, filter model.Filter) (untis.ElementType, int, error) {
	kind, ok := ElementType(filter.Kind)
	if !ok {
		return 0, 0, &model.ResolutionError{Kind: filter.Kind, Identifier: filter.Identifier}
	}
	items, err := f.service.Catalog(ctx, s, kind)
	if err != nil {
		return 0, 0, &model.FetchError{Op: "catalog", Err: err}
	}
	id, err := matchCatalog(items, filter)
	if err != nil {
		return 0, 0, err
	}
	return kind, id, nil
}
