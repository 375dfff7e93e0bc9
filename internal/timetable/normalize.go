package timetable

import (
	"strings"

	"untiscal/internal/model"
	"untiscal/internal/untis"
)

// placeholderPrefix marks non-lesson periods (e.g. "EVA" self-study slots)
// that WebUntis lists as subjects or teachers.
const placeholderPrefix = "eva"

// Normalize converts a raw timetable entry into a Lesson, filling in the
// Unknown* placeholders for missing references. ok is false when the entry
// has an unusable date.
func Normalize(e untis.RawEntry) (model.Lesson, bool) {
	date, err := untis.ParseDate(e.Date)
	if err != nil {
		return model.Lesson{}, false
	}

	l := model.Lesson{
		Date:     date,
		Start:    e.StartTime,
		End:      e.EndTime,
		Subject:  model.DefaultSubject,
		Teachers: names(e.Teachers, model.UnknownTeacher, false),
		Room:     model.UnknownRoom,
		Classes:  names(e.Classes, model.UnknownClass, true),
		Text:     e.LsText,
		Status:   statusFromCode(e.Code),
	}
	if len(e.Subjects) > 0 && e.Subjects[0].Name != "" {
		l.Subject = e.Subjects[0].Name
	}
	if len(e.Rooms) > 0 && e.Rooms[0].Name != "" {
		l.Room = e.Rooms[0].Name
	}
	return l, true
}

func names(refs []untis.ElementRef, fallback string, preferLong bool) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		n := r.Name
		if preferLong && r.LongName != "" {
			n = r.LongName
		}
		if n != "" {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return []string{fallback}
	}
	return out
}

func statusFromCode(code string) model.Status {
	switch strings.ToLower(code) {
	case "cancelled":
		return model.StatusCancelled
	case "irregular":
		return model.StatusIrregular
	default:
		return model.StatusConfirmed
	}
}

// IsPlaceholder reports whether the entry's subject or any of its teachers
// carries the placeholder prefix.
func IsPlaceholder(e untis.RawEntry) bool {
	for _, su := range e.Subjects {
		if hasPlaceholderPrefix(su.Name) || hasPlaceholderPrefix(su.LongName) {
			return true
		}
	}
	for _, te := range e.Teachers {
		if hasPlaceholderPrefix(te.Name) || hasPlaceholderPrefix(te.LongName) {
			return true
		}
	}
	return false
}

func hasPlaceholderPrefix(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), placeholderPrefix)
}

// Bounds computes the school day from the time grid: earliest unit start and
// latest unit end over all days. It returns {0, 0} when the grid has no units.
func Bounds(grid []untis.TimeGridDay) model.Bounds {
	var (
		b     model.Bounds
		found bool
	)
	for _, day := range grid {
		for _, u := range day.TimeUnits {
			if !found {
				b = model.Bounds{Start: u.StartTime, End: u.EndTime}
				found = true
				continue
			}
			b.Start = min(b.Start, u.StartTime)
			b.End = max(b.End, u.EndTime)
		}
	}
	return b
}
