package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ptrun/internal/model"
)

func TestClassifyKnownTags(t *testing.T) {
	res := Classify([]string{"event_type_4-maratona"})
	assert.Equal(t, []model.EventType{model.EventTypeMarathon}, res.Types)
	assert.Empty(t, res.Circuits)
	assert.Empty(t, res.Unmapped)

	res = Classify([]string{
		"event_type-kids-trail",
		"event_type_4-trail",
		"event_type_5-superhalfs",
		"event_type_5-superhalfs",
		"event_type-outras",
	})
	assert.Equal(t, []model.EventType{model.EventTypeKids, model.EventTypeTrail}, res.Types)
	assert.Equal(t, []string{"SuperHalfs"}, res.Circuits)
	assert.Empty(t, res.Unmapped)
}

func TestClassifyUnknownTagIsWarningNotError(t *testing.T) {
	res := Classify([]string{"unknown-tag-xyz", "unknown-tag-xyz"})
	assert.Empty(t, res.Types)
	assert.Empty(t, res.Circuits)
	assert.Equal(t, []string{"unknown-tag-xyz"}, res.Unmapped)
}

func TestClassifyIgnoresHousekeepingTags(t *testing.T) {
	tags := []string{
		"post-12345",
		"type-ajde_events",
		"status-publish",
		"hentry",
		"has-post-thumbnail",
		"event_location-estadio-nacional",
		"event_organizer-camara-municipal",
		"event_type_2-lisboa",
		"event_type_3-sim",
	}
	for _, tag := range tags {
		assert.True(t, Ignored(tag), tag)
	}
	res := Classify(tags)
	assert.Empty(t, res.Types)
	assert.Empty(t, res.Unmapped)

	assert.False(t, Ignored("event_type_4-maratona"))
}

func TestStandardDistance(t *testing.T) {
	cases := map[model.EventType]int{
		model.EventTypeMarathon:     42195,
		model.EventTypeHalfMarathon: 21097,
		model.EventType15K:          15000,
		model.EventType10K:          10000,
		model.EventType5K:           5000,
		model.EventTypeMile:         1600,
	}
	for et, want := range cases {
		got, ok := StandardDistance(et)
		assert.True(t, ok, et)
		assert.Equal(t, want, got, et)
	}

	_, ok := StandardDistance(model.EventTypeTrail)
	assert.False(t, ok)
}

func TestExtractDistances(t *testing.T) {
	cases := []struct {
		text string
		want []int
	}{
		{"Corrida de 10km e 21km", []int{10000, 21000}},
		{"edifício com 500000m", nil},
		{"Percursos de 5 K, 10 km e 42,195 km", []int{5000, 10000, 42195}},
		{"Meia maratona 21.1 KM", []int{21100}},
		{"Prova de 800 metros e 400m para jovens", []int{400, 800}},
		{"Caminhada de 5.000 metros", []int{5000}},
		{"Partida às 9h30m, 10 minutos de aquecimento", nil},
		{"Ultra de 250km", nil},
		{"10km 10 km 10K", []int{10000}},
		{"Corrida de 10kms", []int{10000}},
		{"percurso de 21 kms e 5kms", []int{5000, 21000}},
		{"", nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractDistances(tc.text), tc.text)
	}
}
