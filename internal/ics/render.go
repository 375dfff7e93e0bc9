package ics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"untiscal/internal/config"
	"untiscal/internal/i18n"
	"untiscal/internal/model"
)

const (
	productID = "-//untiscal//WebUntis timetable//EN"
	// maxListed is how many teachers/classes appear in a summary before
	// the rest is collapsed into "...+N".
	maxListed = 3
)

// uidNamespace scopes the name-based UUIDs used as VEVENT UIDs.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://untiscal/lesson"))

// Options control how lessons are turned into a calendar.
type Options struct {
	// Location is the zone lesson times are interpreted in. If nil, UTC.
	Location *time.Location
	// Title names the requested timetable, e.g. "Anna" or "Anna - class 7A".
	Title string
	// CancelledDisplay is config.CancelledHide, CancelledMark or CancelledShow.
	CancelledDisplay string
	Translator       i18n.Translator
	// Now stamps DTSTAMP. If nil, time.Now.
	Now func() time.Time
}

// Render serializes lessons into an iCalendar document.
func Render(lessons []model.Lesson, opts Options) (string, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Translator.Lang() == "" {
		opts.Translator = i18n.For("en")
	}
	tr := opts.Translator
	stamp := opts.Now().UTC()

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName(tr.T("calendar.name"))
	cal.SetXWRTimezone(opts.Location.String())

	for _, l := range lessons {
		cancelled := l.Status == model.StatusCancelled
		if cancelled && opts.CancelledDisplay == config.CancelledHide {
			continue
		}

		start, err := lessonTime(l.Date, l.Start, opts.Location)
		if err != nil {
			return "", err
		}
		end, err := lessonTime(l.Date, l.End, opts.Location)
		if err != nil {
			return "", err
		}

		summary := Summary(l)
		if cancelled && opts.CancelledDisplay == config.CancelledMark {
			summary = tr.T("calendar.cancelled") + ": " + summary
		}

		ev := cal.AddEvent(lessonUID(l))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(start)
		ev.SetEndAt(end)
		ev.SetSummary(summary)
		ev.SetLocation(l.Room)
		ev.SetDescription(description(l, opts.Title, tr))
		if cancelled {
			ev.SetStatus(ical.ObjectStatusCancelled)
		} else {
			ev.SetStatus(ical.ObjectStatusConfirmed)
		}
	}

	return cal.Serialize(), nil
}

// Summary builds the event title: subject (or the free-text line for
// generic events), then teachers and classes, leaving out placeholders.
func Summary(l model.Lesson) string {
	title := l.Subject
	if l.Subject == model.DefaultSubject && l.Text != "" {
		title = l.Text
	}

	var b strings.Builder
	b.WriteString(title)
	if t := shortList(l.Teachers); t != model.UnknownTeacher && t != "" {
		b.WriteString(" (" + t + ")")
	}
	if c := shortList(l.Classes); c != model.UnknownClass && c != "" {
		b.WriteString(" - (" + c + ")")
	}
	return b.String()
}

func shortList(items []string) string {
	if len(items) <= maxListed {
		return strings.Join(items, ", ")
	}
	return strings.Join(items[:maxListed], ", ") + " ...+" + strconv.Itoa(len(items)-maxListed)
}

func description(l model.Lesson, title string, tr i18n.Translator) string {
	lines := []string{
		tr.T("calendar.subject") + ": " + l.Subject,
		tr.T("calendar.teacher") + ": " + strings.Join(l.Teachers, ", "),
		tr.T("calendar.room") + ": " + l.Room,
		tr.T("calendar.class") + ": " + strings.Join(l.Classes, ", "),
		tr.T("calendar.timetable") + ": " + title,
		tr.T("calendar.status") + ": " + tr.T("status."+string(l.Status)),
	}
	if l.Text != "" && l.Subject != model.DefaultSubject {
		lines = append(lines, l.Text)
	}
	return strings.Join(lines, "\n")
}

// lessonTime places an HHMM time-of-day on the lesson's date in loc.
func lessonTime(date time.Time, hhmm int, loc *time.Location) (time.Time, error) {
	h, m := hhmm/100, hhmm%100
	if hhmm < 0 || h > 24 || m > 59 {
		return time.Time{}, fmt.Errorf("ics: invalid time of day %d", hhmm)
	}
	y, mo, d := date.Date()
	return time.Date(y, mo, d, h, m, 0, 0, loc), nil
}

func lessonUID(l model.Lesson) string {
	key := l.IdentityKey() + "|" + strconv.Itoa(l.Start)
	return uuid.NewSHA1(uidNamespace, []byte(key)).String() + "@untiscal"
}
