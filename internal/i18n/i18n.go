// Package i18n holds the calendar and error texts in the supported languages
// and picks a language for a request.
package i18n

import (
	"golang.org/x/text/language"
)

// Supported languages. The first one is the fallback.
var supported = []language.Tag{language.English, language.German}

var matcher = language.NewMatcher(supported)

var messages = map[string]map[string]string{
	"en": {
		"errors.user_not_found":       "User not found",
		"errors.no_timetable":         "No timetable found for this period",
		"errors.fetch_error":          "Failed to fetch timetable",
		"errors.invalid_access_token": "Invalid or missing access token",
		"errors.element_not_found":    "Requested element not found",
		"calendar.name":               "WebUntis Timetable",
		"calendar.cancelled":          "Cancelled",
		"calendar.subject":            "Subject",
		"calendar.teacher":            "Teacher",
		"calendar.room":               "Room",
		"calendar.class":              "Class",
		"calendar.timetable":          "Timetable",
		"calendar.status":             "Status",
		"status.confirmed":            "confirmed",
		"status.cancelled":            "cancelled",
		"status.irregular":            "changed",
	},
	"de": {
		"errors.user_not_found":       "Benutzer nicht gefunden",
		"errors.no_timetable":         "Kein Stundenplan für diesen Zeitraum gefunden",
		"errors.fetch_error":          "Stundenplan konnte nicht geladen werden",
		"errors.invalid_access_token": "Ungültiger oder fehlender Zugriffstoken",
		"errors.element_not_found":    "Angefordertes Element nicht gefunden",
		"calendar.name":               "WebUntis Stundenplan",
		"calendar.cancelled":          "Entfällt",
		"calendar.subject":            "Fach",
		"calendar.teacher":            "Lehrkraft",
		"calendar.room":               "Raum",
		"calendar.class":              "Klasse",
		"calendar.timetable":          "Stundenplan",
		"calendar.status":             "Status",
		"status.confirmed":            "bestätigt",
		"status.cancelled":            "entfällt",
		"status.irregular":            "geändert",
	},
}

// Translator returns texts for one language.
type Translator struct {
	lang string
}

// For returns a Translator for lang, falling back to English for anything
// unsupported.
func For(lang string) Translator {
	if _, ok := messages[lang]; !ok {
		lang = "en"
	}
	return Translator{lang: lang}
}

// Lang is the base language code, "en" or "de".
func (t Translator) Lang() string { return t.lang }

// T looks up key. Missing keys fall back to English, then to the key itself.
func (t Translator) T(key string) string {
	if s, ok := messages[t.lang][key]; ok {
		return s
	}
	if s, ok := messages["en"][key]; ok {
		return s
	}
	return key
}

// Negotiate picks the response language. An explicit query value wins, then
// the user's configured default, then the Accept-Language header.
func Negotiate(query, userDefault, acceptLanguage string) string {
	if query != "" {
		return match(query)
	}
	if userDefault != "" {
		return match(userDefault)
	}
	if acceptLanguage != "" {
		tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
		if err == nil && len(tags) > 0 {
			_, idx, conf := matcher.Match(tags...)
			if conf != language.No {
				return base(supported[idx])
			}
		}
	}
	return base(supported[0])
}

func match(s string) string {
	tag, err := language.Parse(s)
	if err != nil {
		return base(supported[0])
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return base(supported[0])
	}
	return base(supported[idx])
}

func base(t language.Tag) string {
	b, _ := t.Base()
	return b.String()
}
