// Package builder accumulates the fields of one event from several
// sources and produces the final record.
//
// Scalar fields start unset. A setter only assigns an unset field unless
// called with Overwrite. Defaults are applied by Build and nowhere else.
package builder

import (
	"fmt"
	"sort"

	appLog "ptrun/internal/log"
	"ptrun/internal/model"
)

// Mode selects how a setter treats a field that is already set.
type Mode int

const (
	FirstWins Mode = iota
	Overwrite
)

const (
	DefaultName     = "Unknown Event"
	DefaultLocation = "Unknown Location"
	DefaultLocality = "Unknown"
	DefaultCountry  = "Portugal"
	DefaultDate     = "1970-01-01"
)

// Builder is not safe for concurrent use; each listing owns one.
type Builder struct {
	id int

	name             *string
	location         *string
	coordinates      *model.Coordinates
	country          *string
	locality         *string
	startDate        *string
	endDate          *string
	description      *string
	descriptionShort *string
	page             *string
	slug             *string
	adminLevel1      *string
	adminLevel2      *string
	adminLevel3      *string
	districtCode     *int

	types     []model.EventType
	distances []int
	images    []string
	circuits  []string
}

func New(id int) *Builder {
	return &Builder{id: id}
}

func (b *Builder) ID() int { return b.id }

func set[T any](b *Builder, field string, dst **T, v T, mode Mode) bool {
	if *dst != nil && mode != Overwrite {
		return false
	}
	old := "<unset>"
	if *dst != nil {
		old = fmt.Sprint(**dst)
	}
	*dst = &v
	appLog.Debug("builder set", "id", b.id, "field", field, "old", old, "new", fmt.Sprint(v))
	return true
}

func (b *Builder) SetName(v string, mode Mode) bool {
	return set(b, "name", &b.name, v, mode)
}

func (b *Builder) SetLocation(v string, mode Mode) bool {
	return set(b, "location", &b.location, v, mode)
}

func (b *Builder) SetCoordinates(v model.Coordinates, mode Mode) bool {
	return set(b, "coordinates", &b.coordinates, v, mode)
}

func (b *Builder) SetCountry(v string, mode Mode) bool {
	return set(b, "country", &b.country, v, mode)
}

func (b *Builder) SetLocality(v string, mode Mode) bool {
	return set(b, "locality", &b.locality, v, mode)
}

func (b *Builder) SetStartDate(v string, mode Mode) bool {
	return set(b, "start_date", &b.startDate, v, mode)
}

func (b *Builder) SetEndDate(v string, mode Mode) bool {
	return set(b, "end_date", &b.endDate, v, mode)
}

func (b *Builder) SetDescription(v string, mode Mode) bool {
	if b.description != nil && mode != Overwrite {
		return false
	}
	// Descriptions are long; log sizes only.
	appLog.Debug("builder set", "id", b.id, "field", "description", "chars", len([]rune(v)))
	b.description = &v
	return true
}

func (b *Builder) SetDescriptionShort(v string, mode Mode) bool {
	return set(b, "description_short", &b.descriptionShort, v, mode)
}

func (b *Builder) SetPage(v string, mode Mode) bool {
	return set(b, "page", &b.page, v, mode)
}

func (b *Builder) SetSlug(v string, mode Mode) bool {
	return set(b, "slug", &b.slug, v, mode)
}

func (b *Builder) SetAdministrativeAreaLevel1(v string, mode Mode) bool {
	return set(b, "administrative_area_level_1", &b.adminLevel1, v, mode)
}

func (b *Builder) SetAdministrativeAreaLevel2(v string, mode Mode) bool {
	return set(b, "administrative_area_level_2", &b.adminLevel2, v, mode)
}

func (b *Builder) SetAdministrativeAreaLevel3(v string, mode Mode) bool {
	return set(b, "administrative_area_level_3", &b.adminLevel3, v, mode)
}

func (b *Builder) SetDistrictCode(v int, mode Mode) bool {
	return set(b, "district_code", &b.districtCode, v, mode)
}

// AddType adds t once; the set is kept sorted.
func (b *Builder) AddType(t model.EventType) {
	i := sort.Search(len(b.types), func(i int) bool { return b.types[i] >= t })
	if i < len(b.types) && b.types[i] == t {
		return
	}
	b.types = append(b.types, "")
	copy(b.types[i+1:], b.types[i:])
	b.types[i] = t
	appLog.Debug("builder add", "id", b.id, "field", "types", "value", string(t))
}

// AddDistance adds meters once; the set is kept sorted.
func (b *Builder) AddDistance(meters int) {
	i := sort.SearchInts(b.distances, meters)
	if i < len(b.distances) && b.distances[i] == meters {
		return
	}
	b.distances = append(b.distances, 0)
	copy(b.distances[i+1:], b.distances[i:])
	b.distances[i] = meters
	appLog.Debug("builder add", "id", b.id, "field", "distances", "value", meters)
}

// AddImage keeps insertion order.
func (b *Builder) AddImage(path string) {
	for _, p := range b.images {
		if p == path {
			return
		}
	}
	b.images = append(b.images, path)
	appLog.Debug("builder add", "id", b.id, "field", "images", "value", path)
}

// AddCircuit adds c once; the set is kept sorted.
func (b *Builder) AddCircuit(c string) {
	i := sort.SearchStrings(b.circuits, c)
	if i < len(b.circuits) && b.circuits[i] == c {
		return
	}
	b.circuits = append(b.circuits, "")
	copy(b.circuits[i+1:], b.circuits[i:])
	b.circuits[i] = c
	appLog.Debug("builder add", "id", b.id, "field", "circuit", "value", c)
}

// Accessors report false for fields no source has set yet.

func (b *Builder) Name() (string, bool)        { return get(b.name) }
func (b *Builder) Location() (string, bool)    { return get(b.location) }
func (b *Builder) Description() (string, bool) { return get(b.description) }
func (b *Builder) StartDate() (string, bool)   { return get(b.startDate) }

func (b *Builder) Types() []model.EventType {
	return append([]model.EventType(nil), b.types...)
}

func (b *Builder) Distances() []int {
	return append([]int(nil), b.distances...)
}

func get(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	return *p, true
}

func or(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Build materialises defaults. The returned Event shares no state with b.
func (b *Builder) Build() model.Event {
	start := or(b.startDate, DefaultDate)
	ev := model.Event{
		ID:               b.id,
		Name:             or(b.name, DefaultName),
		Location:         or(b.location, DefaultLocation),
		Coordinates:      clonePtr(b.coordinates),
		Country:          or(b.country, DefaultCountry),
		Locality:         or(b.locality, DefaultLocality),
		Distances:        append([]int{}, b.distances...),
		Types:            append([]model.EventType{}, b.types...),
		Images:           append([]string{}, b.images...),
		StartDate:        start,
		EndDate:          or(b.endDate, start),
		Circuit:          append([]string{}, b.circuits...),
		Description:      or(b.description, ""),
		DescriptionShort: clonePtr(b.descriptionShort),
		Page:             clonePtr(b.page),
		Slug:             clonePtr(b.slug),

		AdministrativeAreaLevel1: clonePtr(b.adminLevel1),
		AdministrativeAreaLevel2: clonePtr(b.adminLevel2),
		AdministrativeAreaLevel3: clonePtr(b.adminLevel3),
		DistrictCode:             clonePtr(b.districtCode),
	}
	return ev
}
