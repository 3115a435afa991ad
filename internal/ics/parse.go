package ics

import (
	"regexp"
	"strings"

	ical "github.com/arran4/golang-ical"

	"ptrun/internal/model"
	appLog "ptrun/internal/log"
)

// FormatError reports a calendar export that cannot be interpreted at all.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "ics format: " + e.Reason
}

// fields holds raw property values of the first VEVENT.
type fields struct {
	location    string
	dtstart     string
	dtend       string
	description string
	summary     string
}

// Parse extracts CalendarData from one EventON calendar export.
//
//   - A body without BEGIN:VCALENDAR is a *FormatError.
//   - NUL/control characters and invalid UTF-8 are dropped first.
//   - The structured parser is tried first; exports it rejects are read
//     line by line with the same field rules.
//
// Missing fields are left nil.
func Parse(body []byte) (model.CalendarData, error) {
	text := clean(body)
	if !strings.Contains(text, "BEGIN:VCALENDAR") {
		return model.CalendarData{}, &FormatError{Reason: "missing BEGIN:VCALENDAR header"}
	}

	f, err := parseStructured(text)
	if err != nil {
		appLog.Debug("ics structured parse failed, using line scan", "err", err)
		f = parseLines(text)
	}

	var out model.CalendarData
	if v := cleanLocation(f.location); v != "" {
		out.Location = &v
	}
	if v, ok := isoDate(f.dtstart); ok {
		out.StartDate = &v
	}
	if v, ok := isoDate(f.dtend); ok {
		out.EndDate = &v
	}
	if v := cleanDescription(f.description); v != "" {
		out.Description = &v
	}
	if v := strings.TrimSpace(f.summary); v != "" {
		out.Summary = &v
	}
	return out, nil
}

// clean drops NUL and control characters (keeping line breaks and tabs)
// and any invalid UTF-8.
func clean(body []byte) string {
	s := strings.ToValidUTF8(string(body), "")
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

func parseStructured(text string) (fields, error) {
	cal, err := ical.ParseCalendar(strings.NewReader(text))
	if err != nil {
		return fields{}, err
	}
	events := cal.Events()
	if len(events) == 0 {
		return fields{}, &FormatError{Reason: "no VEVENT"}
	}
	ev := events[0]

	get := func(p ical.ComponentProperty) string {
		if prop := ev.GetProperty(p); prop != nil {
			return prop.Value
		}
		return ""
	}
	return fields{
		location:    get(ical.ComponentPropertyLocation),
		dtstart:     get(ical.ComponentPropertyDtStart),
		dtend:       get(ical.ComponentPropertyDtEnd),
		description: get(ical.ComponentPropertyDescription),
		summary:     get(ical.ComponentPropertySummary),
	}, nil
}

// contentLine matches NAME[;PARAMS]:VALUE.
var contentLine = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9-]*)(?:;[^:]*)?:(.*)$`)

// parseLines is the fallback for exports the structured parser rejects.
// It unfolds continuation lines and keeps the first value of each field,
// preferring the first VEVENT when one exists.
func parseLines(text string) fields {
	text = unfold(text)
	if i := strings.Index(text, "BEGIN:VEVENT"); i >= 0 {
		text = text[i:]
	}

	var f fields
	seen := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		m := contentLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.ToUpper(m[1])
		if seen[name] {
			continue
		}
		switch name {
		case "LOCATION":
			f.location = m[2]
		case "DTSTART":
			f.dtstart = m[2]
		case "DTEND":
			f.dtend = m[2]
		case "DESCRIPTION":
			f.description = m[2]
		case "SUMMARY":
			f.summary = m[2]
		case "END":
			if strings.EqualFold(strings.TrimSpace(m[2]), "VEVENT") {
				return f
			}
			continue
		default:
			continue
		}
		seen[name] = true
	}
	return f
}

var unfoldReplacer = strings.NewReplacer("\r\n ", "", "\r\n\t", "", "\n ", "", "\n\t", "")

func unfold(s string) string {
	return unfoldReplacer.Replace(s)
}

var leadingDigits = regexp.MustCompile(`^\d+`)

// isoDate turns an 8-digit YYYYMMDD stamp (optionally followed by a time
// part) into YYYY-MM-DD. Other stamps are ignored.
func isoDate(v string) (string, bool) {
	d := leadingDigits.FindString(strings.TrimSpace(v))
	if len(d) != 8 {
		return "", false
	}
	return d[:4] + "-" + d[4:6] + "-" + d[6:8], true
}

var spaceRun = regexp.MustCompile(`\s+`)

// cleanLocation unescapes commas, collapses whitespace and drops a token
// that repeats the one before it ("Lisboa Lisboa" -> "Lisboa"). Repeats
// further apart are kept: "Parque Lisboa Estádio Lisboa" is unchanged.
func cleanLocation(v string) string {
	v = strings.ReplaceAll(v, `\,`, ",")
	v = strings.ReplaceAll(v, `\;`, ";")
	v = strings.TrimSpace(spaceRun.ReplaceAllString(v, " "))
	if v == "" {
		return ""
	}

	tokens := strings.Split(v, " ")
	out := tokens[:1]
	for _, tok := range tokens[1:] {
		if tok == out[len(out)-1] {
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

var descReplacer = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";")

func cleanDescription(v string) string {
	v = unfold(v)
	v = descReplacer.Replace(v)
	return Repair(strings.TrimSpace(v))
}
