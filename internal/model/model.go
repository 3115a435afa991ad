package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// EventType is one of the canonical running-event categories.
type EventType string

const (
	EventTypeMarathon       EventType = "marathon"
	EventTypeHalfMarathon   EventType = "half-marathon"
	EventType15K            EventType = "15k"
	EventType10K            EventType = "10k"
	EventType5K             EventType = "5k"
	EventTypeMile           EventType = "mile"
	EventTypeRun            EventType = "run"
	EventTypeTrail          EventType = "trail"
	EventTypeWalk           EventType = "walk"
	EventTypeCrossCountry   EventType = "cross-country"
	EventTypeSaintSilvester EventType = "saint-silvester"
	EventTypeKids           EventType = "kids"
	EventTypeRelay          EventType = "relay"
)

// EventTypes lists every canonical type in declaration order.
var EventTypes = []EventType{
	EventTypeMarathon,
	EventTypeHalfMarathon,
	EventType15K,
	EventType10K,
	EventType5K,
	EventTypeMile,
	EventTypeRun,
	EventTypeTrail,
	EventTypeWalk,
	EventTypeCrossCountry,
	EventTypeSaintSilvester,
	EventTypeKids,
	EventTypeRelay,
}

// ParseEventType accepts only members of the closed enumeration.
func ParseEventType(s string) (EventType, bool) {
	for _, t := range EventTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Distance bounds in meters accepted from any source.
const (
	MinDistance = 100
	MaxDistance = 200000
)

// ValidDistance reports whether meters falls inside the accepted range.
func ValidDistance(meters int) bool {
	return meters >= MinDistance && meters <= MaxDistance
}

// ClassList is the WordPress class_list field. The API sometimes returns it
// as an object keyed by position ("0": "...", "1": "...") instead of an array.
type ClassList []string

func (c *ClassList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*c = arr
		return nil
	}

	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("class_list: expected array or object: %w", err)
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, obj[k])
	}
	*c = out
	return nil
}

// RawListing is one event entry as delivered by the listing API.
type RawListing struct {
	ID int `json:"id"`
	// Date is when the post was created, not when the event happens.
	Date string `json:"date"`
	// Link is the listing page on the source site.
	Link      string    `json:"link"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ClassList ClassList `json:"class_list"`

	FeaturedMedia    *int   `json:"featured_media,omitempty"`
	FeaturedImageSrc string `json:"featured_image_src,omitempty"`
}

// Page is one page of the listing index.
type Page struct {
	Number   int   `json:"page"`
	EventIDs []int `json:"event_ids"`
}

// CalendarData holds the fields extracted from one calendar export.
// Every field is optional.
type CalendarData struct {
	Location    *string `json:"location"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
	Description *string `json:"description"`
	Summary     *string `json:"summary"`
}

// ClassifiedTypes is a set of canonical types plus distances in meters.
type ClassifiedTypes struct {
	Types     []EventType `json:"types"`
	Distances []int       `json:"distances"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeoResult is a resolved location.
type GeoResult struct {
	Name        string       `json:"name"`
	Country     string       `json:"country"`
	Locality    string       `json:"locality"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`

	AdministrativeAreaLevel1 *string `json:"administrative_area_level_1,omitempty"` // district
	AdministrativeAreaLevel2 *string `json:"administrative_area_level_2,omitempty"` // municipality
	AdministrativeAreaLevel3 *string `json:"administrative_area_level_3,omitempty"` // parish
	DistrictCode             *int    `json:"district_code,omitempty"`
}

// Event is the final merged record written to the output directory.
type Event struct {
	ID               int          `json:"id"`
	Name             string       `json:"name"`
	Location         string       `json:"location"`
	Coordinates      *Coordinates `json:"coordinates"`
	Country          string       `json:"country"`
	Locality         string       `json:"locality"`
	Distances        []int        `json:"distances"`
	Types            []EventType  `json:"types"`
	Images           []string     `json:"images"`
	StartDate        string       `json:"start_date"`
	EndDate          string       `json:"end_date"`
	Circuit          []string     `json:"circuit"`
	Description      string       `json:"description"`
	DescriptionShort *string      `json:"description_short"`
	Page             *string      `json:"page"`
	Slug             *string      `json:"slug"`

	AdministrativeAreaLevel1 *string `json:"administrative_area_level_1"`
	AdministrativeAreaLevel2 *string `json:"administrative_area_level_2"`
	AdministrativeAreaLevel3 *string `json:"administrative_area_level_3"`
	DistrictCode             *int    `json:"district_code"`
}

// Year returns the calendar year of StartDate, or false when it has none.
func (e Event) Year() (int, bool) {
	if len(e.StartDate) < 4 {
		return 0, false
	}
	y, err := strconv.Atoi(e.StartDate[:4])
	if err != nil {
		return 0, false
	}
	return y, true
}

// String returns a pointer to s, handy for optional fields.
func String(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }
