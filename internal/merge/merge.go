// Package merge collapses back-to-back timetable periods into single lessons.
//
// The timetable service reports a double period of the same subject as two
// separate entries. Merge joins such entries when they share an identity
// (day, subject, teachers, room, classes) and touch or overlap within Gap.
package merge

import (
	"cmp"
	"slices"

	"untiscal/internal/model"
)

// Gap is the tolerance, in HHMM units, under which two periods count as
// continuous (e.g. 845 and 846).
const Gap = 1

// Merge clamps lessons to bounds, drops the ones left empty, and merges
// adjacent lessons with the same identity. The result is sorted by date and
// start time. The input slice is not modified.
//
// Bounds of {0, 0} clamp every lesson to zero length, so the result is empty.
func Merge(lessons []model.Lesson, bounds model.Bounds) []model.Lesson {
	if len(lessons) == 0 {
		return []model.Lesson{}
	}

	// Group by identity, keeping first-seen order so output is deterministic.
	groups := make(map[string][]model.Lesson)
	order := make([]string, 0)

	for _, l := range lessons {
		c, ok := Clamp(l, bounds)
		if !ok {
			continue
		}
		key := c.IdentityKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	merged := make([]model.Lesson, 0, len(lessons))
	for _, key := range order {
		merged = append(merged, mergeGroup(groups[key])...)
	}

	slices.SortStableFunc(merged, func(a, b model.Lesson) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Start, b.Start)
	})
	return merged
}

// Clamp restricts l to bounds. ok is false when nothing of l remains.
func Clamp(l model.Lesson, bounds model.Bounds) (model.Lesson, bool) {
	l.Start = max(l.Start, bounds.Start)
	l.End = min(l.End, bounds.End)
	if l.Start >= l.End {
		return model.Lesson{}, false
	}
	return l, true
}

func mergeGroup(group []model.Lesson) []model.Lesson {
	slices.SortStableFunc(group, func(a, b model.Lesson) int {
		return cmp.Compare(a.Start, b.Start)
	})

	out := make([]model.Lesson, 0, len(group))
	current := group[0]
	for _, next := range group[1:] {
		if next.Start <= current.End+Gap {
			current.End = max(current.End, next.End)
			continue
		}
		out = append(out, current)
		current = next
	}
	return append(out, current)
}
