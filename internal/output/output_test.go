package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptrun/internal/builder"
	"ptrun/internal/model"
)

func event(id int, start string, district int) model.Event {
	b := builder.New(id)
	b.SetName("Corrida de São João", builder.FirstWins)
	if start != "" {
		b.SetStartDate(start, builder.FirstWins)
	}
	if district > 0 {
		b.SetDistrictCode(district, builder.FirstWins)
	}
	return b.Build()
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestSortEvents(t *testing.T) {
	events := []model.Event{
		event(3, "2024-05-01", 0),
		event(2, "2024-03-15", 0),
		event(1, "2024-05-01", 0),
	}
	SortEvents(events)
	ids := []int{events[0].ID, events[1].ID, events[2].ID}
	assert.Equal(t, []int{2, 1, 3}, ids)
}

func TestWriteProducesEveryView(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "events")
	w := NewWriter(dir)

	events := []model.Event{
		event(1, "2024-12-31", 11),
		event(2, "2025-03-01", 13),
		event(3, "2025-01-15", 11),
		event(4, "", 0),
	}
	require.NoError(t, w.Write(events, "2025-01-01"))

	for _, name := range []string{
		"1.json", "2.json", "3.json", "4.json",
		EventsFile, ByDistrictFile, UpcomingFile, UpcomingByDistrictFile,
		"year-2024.json", "year-2025.json", "year-1970.json",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	var all []model.Event
	readJSON(t, filepath.Join(dir, EventsFile), &all)
	require.Len(t, all, 4)
	assert.Equal(t, []int{4, 1, 3, 2}, []int{all[0].ID, all[1].ID, all[2].ID, all[3].ID})

	var y2025 []model.Event
	readJSON(t, filepath.Join(dir, "year-2025.json"), &y2025)
	assert.Len(t, y2025, 2)

	var byDistrict map[string][]model.Event
	readJSON(t, filepath.Join(dir, ByDistrictFile), &byDistrict)
	assert.Len(t, byDistrict["11"], 2)
	assert.Len(t, byDistrict["13"], 1)

	var upcoming []model.Event
	readJSON(t, filepath.Join(dir, UpcomingFile), &upcoming)
	require.Len(t, upcoming, 2)
	assert.Equal(t, 3, upcoming[0].ID)
	assert.Equal(t, 2, upcoming[1].ID)

	var upcomingByDistrict map[string][]model.Event
	readJSON(t, filepath.Join(dir, UpcomingByDistrictFile), &upcomingByDistrict)
	assert.Len(t, upcomingByDistrict["11"], 1)
	assert.Len(t, upcomingByDistrict["13"], 1)
}

func TestUpcomingIncludesToday(t *testing.T) {
	got := Upcoming([]model.Event{event(1, "2025-01-01", 0), event(2, "2024-12-31", 0)}, "2025-01-01")
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ID)
}

func TestMarshalKeepsNonASCIIAndIndents(t *testing.T) {
	data, err := Marshal(event(9, "2024-06-23", 0))
	require.NoError(t, err)
	s := string(data)

	assert.Contains(t, s, "Corrida de São João")
	assert.Contains(t, s, "\n  \"id\": 9,")
	assert.Contains(t, s, `"coordinates": null`)
	assert.Contains(t, s, `"distances": []`)
	assert.False(t, strings.Contains(s, `\u00e3`))
}

func TestEmptyRunStillWritesAggregates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewWriter(dir).Write(nil, "2025-01-01"))

	var all []model.Event
	readJSON(t, filepath.Join(dir, EventsFile), &all)
	assert.Empty(t, all)

	data, err := os.ReadFile(filepath.Join(dir, EventsFile))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}
