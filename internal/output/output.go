// Package output writes built events to a directory: one file per event
// plus the aggregate views.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"ptrun/internal/fsutil"
	appLog "ptrun/internal/log"
	"ptrun/internal/model"
)

const (
	EventsFile             = "events.json"
	ByDistrictFile         = "by-district.json"
	UpcomingFile           = "upcoming.json"
	UpcomingByDistrictFile = "upcoming-by-district.json"
)

// YearFile is the name of the per-year view.
func YearFile(year int) string {
	return fmt.Sprintf("year-%d.json", year)
}

// EventFile is the name of a single event's file.
func EventFile(id int) string {
	return strconv.Itoa(id) + ".json"
}

// Marshal encodes v with two-space indentation and without HTML escaping,
// so non-ASCII text stays readable.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SortEvents orders by start date, then id.
func SortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].StartDate != events[j].StartDate {
			return events[i].StartDate < events[j].StartDate
		}
		return events[i].ID < events[j].ID
	})
}

// ByDistrict groups events by district code. Events without a code are
// left out.
func ByDistrict(events []model.Event) map[int][]model.Event {
	out := map[int][]model.Event{}
	for _, ev := range events {
		if ev.DistrictCode == nil {
			continue
		}
		out[*ev.DistrictCode] = append(out[*ev.DistrictCode], ev)
	}
	return out
}

// Upcoming keeps events starting on or after today (YYYY-MM-DD).
func Upcoming(events []model.Event, today string) []model.Event {
	out := []model.Event{}
	for _, ev := range events {
		if ev.StartDate >= today {
			out = append(out, ev)
		}
	}
	return out
}

type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) Dir() string { return w.dir }

func (w *Writer) write(name string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(w.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// WriteEvent writes one event file.
func (w *Writer) WriteEvent(ev model.Event) error {
	return w.write(EventFile(ev.ID), ev)
}

// Write stores every event and regenerates all aggregate views. today
// decides which events are upcoming.
func (w *Writer) Write(events []model.Event, today string) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	sorted := append([]model.Event{}, events...)
	SortEvents(sorted)

	for _, ev := range sorted {
		if err := w.WriteEvent(ev); err != nil {
			return err
		}
	}

	if err := w.write(EventsFile, sorted); err != nil {
		return err
	}

	years := map[int][]model.Event{}
	for _, ev := range sorted {
		if y, ok := ev.Year(); ok {
			years[y] = append(years[y], ev)
		}
	}
	for y, evs := range years {
		if err := w.write(YearFile(y), evs); err != nil {
			return err
		}
	}

	if err := w.write(ByDistrictFile, ByDistrict(sorted)); err != nil {
		return err
	}

	upcoming := Upcoming(sorted, today)
	if err := w.write(UpcomingFile, upcoming); err != nil {
		return err
	}
	if err := w.write(UpcomingByDistrictFile, ByDistrict(upcoming)); err != nil {
		return err
	}

	appLog.Info("output written",
		"dir", w.dir,
		"events", len(sorted),
		"years", len(years),
		"upcoming", len(upcoming),
	)
	return nil
}
