package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptrun/internal/model"
)

func TestFirstWriteWins(t *testing.T) {
	b := New(1)
	assert.True(t, b.SetLocation("A", FirstWins))
	assert.False(t, b.SetLocation("B", FirstWins))
	assert.Equal(t, "A", b.Build().Location)
}

func TestOverwrite(t *testing.T) {
	b := New(1)
	b.SetLocation("A", FirstWins)
	assert.True(t, b.SetLocation("B", Overwrite))
	assert.Equal(t, "B", b.Build().Location)
}

func TestOverwriteOnUnsetField(t *testing.T) {
	b := New(1)
	assert.True(t, b.SetCountry("Espanha", Overwrite))
	assert.Equal(t, "Espanha", b.Build().Country)
}

func TestUnsetIsDistinctFromDefault(t *testing.T) {
	b := New(1)
	_, ok := b.Name()
	assert.False(t, ok)

	// Setting the sentinel explicitly still counts as set.
	b.SetName(DefaultName, FirstWins)
	assert.False(t, b.SetName("Corrida do Tejo", FirstWins))
	name, ok := b.Name()
	assert.True(t, ok)
	assert.Equal(t, DefaultName, name)
}

func TestBuildDefaults(t *testing.T) {
	ev := New(42).Build()

	assert.Equal(t, 42, ev.ID)
	assert.Equal(t, "Unknown Event", ev.Name)
	assert.Equal(t, "Unknown Location", ev.Location)
	assert.Equal(t, "Unknown", ev.Locality)
	assert.Equal(t, "Portugal", ev.Country)
	assert.Equal(t, "1970-01-01", ev.StartDate)
	assert.Equal(t, "1970-01-01", ev.EndDate)
	assert.Equal(t, "", ev.Description)
	assert.Nil(t, ev.Coordinates)
	assert.Nil(t, ev.DescriptionShort)
	assert.Nil(t, ev.Page)
	assert.Nil(t, ev.Slug)
	assert.Nil(t, ev.DistrictCode)
	assert.NotNil(t, ev.Distances)
	assert.NotNil(t, ev.Types)
	assert.NotNil(t, ev.Images)
	assert.NotNil(t, ev.Circuit)
}

func TestEndDateDefaultsToStartDate(t *testing.T) {
	b := New(1)
	b.SetStartDate("2024-03-15", FirstWins)
	ev := b.Build()
	assert.Equal(t, "2024-03-15", ev.EndDate)

	b.SetEndDate("2024-03-16", FirstWins)
	assert.Equal(t, "2024-03-16", b.Build().EndDate)
}

func TestSetsAreDedupedAndSorted(t *testing.T) {
	b := New(1)
	for _, d := range []int{21097, 5000, 21097, 10000, 5000} {
		b.AddDistance(d)
	}
	for _, tp := range []model.EventType{model.EventTypeTrail, model.EventTypeHalfMarathon, model.EventTypeTrail} {
		b.AddType(tp)
	}
	for _, c := range []string{"SuperHalfs", "ATRP", "SuperHalfs"} {
		b.AddCircuit(c)
	}
	b.AddImage("media/b.jpg")
	b.AddImage("media/a.jpg")
	b.AddImage("media/b.jpg")

	ev := b.Build()
	assert.Equal(t, []int{5000, 10000, 21097}, ev.Distances)
	assert.Equal(t, []model.EventType{model.EventTypeHalfMarathon, model.EventTypeTrail}, ev.Types)
	assert.Equal(t, []string{"ATRP", "SuperHalfs"}, ev.Circuit)
	assert.Equal(t, []string{"media/b.jpg", "media/a.jpg"}, ev.Images)
}

func TestBuildDoesNotAlias(t *testing.T) {
	b := New(1)
	b.AddDistance(5000)
	b.SetCoordinates(model.Coordinates{Lat: 1, Lon: 2}, FirstWins)
	b.SetDistrictCode(11, FirstWins)

	ev := b.Build()
	b.AddDistance(10000)
	b.SetCoordinates(model.Coordinates{Lat: 3, Lon: 4}, Overwrite)
	b.SetDistrictCode(13, Overwrite)

	assert.Equal(t, []int{5000}, ev.Distances)
	require.NotNil(t, ev.Coordinates)
	assert.Equal(t, 1.0, ev.Coordinates.Lat)
	assert.Equal(t, 11, *ev.DistrictCode)
}

func TestAccessorsReturnCopies(t *testing.T) {
	b := New(1)
	b.AddType(model.EventTypeRun)
	types := b.Types()
	types[0] = model.EventTypeWalk
	assert.Equal(t, []model.EventType{model.EventTypeRun}, b.Types())
}
