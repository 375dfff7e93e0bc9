package model

import (
	"strings"
	"time"
)

// Status of a lesson as reported by the timetable service.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusIrregular Status = "irregular"
)

// Placeholder names used when the timetable service omits a reference.
// The renderer relies on these to decide which parts of a summary to skip.
const (
	DefaultSubject = "Event"
	UnknownTeacher = "Unknown Teacher"
	UnknownRoom    = "Unknown Room"
	UnknownClass   = "Unknown Class"
)

// Lesson is a normalized timetable period. Start and End are time-of-day
// values encoded as HHMM integers (e.g. 745 for 07:45).
type Lesson struct {
	// Date is the calendar day of the lesson at midnight UTC. Only the
	// year/month/day components are meaningful.
	Date time.Time

	Start int
	End   int

	Subject  string
	Teachers []string
	Room     string
	Classes  []string

	// Text is the free-text line attached to the period (WebUntis "lstext").
	Text   string
	Status Status
}

// IdentityKey renders the merge identity as a string, suitable as a map key.
// Two lessons may merge when they share a day, subject, room and identical
// (order-sensitive) teacher and class lists.
func (l Lesson) IdentityKey() string {
	var b strings.Builder
	b.WriteString(l.Date.Format("20060102"))
	b.WriteByte('|')
	b.WriteString(l.Subject)
	b.WriteByte('|')
	b.WriteString(strings.Join(l.Teachers, "\x1f"))
	b.WriteByte('|')
	b.WriteString(l.Room)
	b.WriteByte('|')
	b.WriteString(strings.Join(l.Classes, "\x1f"))
	return b.String()
}

// Bounds is the span of the school day in HHMM, used to clamp lessons.
type Bounds struct {
	Start int
	End   int
}

// FilterKind selects which kind of element timetable is requested.
type FilterKind string

const (
	KindClass   FilterKind = "class"
	KindRoom    FilterKind = "room"
	KindTeacher FilterKind = "teacher"
	KindSubject FilterKind = "subject"
)

// ParseFilterKind returns the kind for s (case-insensitive) and whether it is
// one of the supported kinds.
func ParseFilterKind(s string) (FilterKind, bool) {
	switch k := FilterKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindClass, KindRoom, KindTeacher, KindSubject:
		return k, true
	default:
		return "", false
	}
}

// Filter narrows a timetable request to one class, room, teacher or subject.
// Identifier is either a short/long name or a literal numeric ID.
type Filter struct {
	Kind       FilterKind
	Identifier string
}
