package timetable

import (
	"strconv"
	"strings"

	"untiscal/internal/model"
	"untiscal/internal/untis"
)

var elementTypes = map[model.FilterKind]untis.ElementType{
	model.KindClass:   untis.ElementClass,
	model.KindRoom:    untis.ElementRoom,
	model.KindTeacher: untis.ElementTeacher,
	model.KindSubject: untis.ElementSubject,
}

// ElementType maps a filter kind to the WebUntis element type.
func ElementType(k model.FilterKind) (untis.ElementType, bool) {
	t, ok := elementTypes[k]
	return t, ok
}

// matchCatalog finds identifier among the catalog's short or long names,
// case-insensitively, and falls back to reading it as a numeric ID.
func matchCatalog(items []untis.CatalogItem, f model.Filter) (int, error) {
	want := strings.TrimSpace(f.Identifier)
	for _, it := range items {
		if strings.EqualFold(it.Name, want) || strings.EqualFold(it.LongName, want) {
			return it.ID, nil
		}
	}
	if id, ok := leadingInt(want); ok {
		return id, nil
	}
	return 0, &model.ResolutionError{Kind: f.Kind, Identifier: f.Identifier}
}

// leadingInt reads the decimal number at the start of s, ignoring anything
// after it, so "7A" yields 7. ok is false when s does not start with a digit.
func leadingInt(s string) (int, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
