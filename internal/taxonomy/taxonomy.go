// Package taxonomy maps WordPress category tags and free text to canonical
// event types, circuits and distances.
package taxonomy

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	appLog "ptrun/internal/log"
	"ptrun/internal/model"
)

var ignoredTags = map[string]struct{}{
	"ajde_events":                      {},
	"type-ajde_events":                 {},
	"status-publish":                   {},
	"hentry":                           {},
	"has-post-thumbnail":               {},
	"event_type_3-sim":                 {},
	"event_type_4-solidarias-sim":      {},
	"event_type_5-3-rios-trail-trophy": {},
	"event_type-corridas-inferior-10":  {},
	"event_type_2-guarda":              {},
	"event_type_2-acores":              {},
	"event_type_2-alemanha":            {},
	"event_type_2-algarve-e-sul":       {},
	"event_type_2-america":             {},
	"event_type_2-aveiro":              {},
	"event_type_2-beja":                {},
	"event_type_2-braga":               {},
	"event_type_2-braganca":            {},
	"event_type_2-castelo-branco":      {},
	"event_type_2-coimbra":             {},
	"event_type_2-espanha":             {},
	"event_type_2-europa":              {},
	"event_type_2-evora":               {},
	"event_type_2-faro":                {},
	"event_type_2-italia":              {},
	"event_type_2-leiria":              {},
	"event_type_2-lisboa":              {},
	"event_type_2-lisboa-e-centro":     {},
	"event_type_2-madeira":             {},
	"event_type_2-noruega":             {},
	"event_type_2-paises-baixos":       {},
	"event_type_2-portalegre":          {},
	"event_type_2-porto":               {},
	"event_type_2-porto-e-norte":       {},
	"event_type_2-portugal":            {},
	"event_type_2-reino-unido":         {},
	"event_type_2-santarem":            {},
	"event_type_2-setubal":             {},
	"event_type_2-usa":                 {},
	"event_type_2-viana-do-castelo":    {},
	"event_type_2-vila-real":           {},
	"event_type_2-viseu":               {},
}

var ignoredPrefixes = []string{"post-", "event_location-", "event_organizer-"}

// typeTags maps a tag to the types it implies. An empty slice marks a
// known tag that carries no type.
var typeTags = map[string][]model.EventType{
	"event_type-caminhada":        {model.EventTypeRun},
	"event_type-trail":            {model.EventTypeTrail},
	"event_type-trail-curto":      {model.EventTypeTrail},
	"event_type-trail-longo":      {model.EventTypeTrail},
	"event_type_4-corrida":        {model.EventTypeRun},
	"event_type_4-caminhada":      {model.EventTypeWalk},
	"event_type_4-trail":          {model.EventTypeTrail},
	"event_type_4-sao-silvestre":  {model.EventTypeSaintSilvester},
	"event_type_4-cross":          {model.EventTypeCrossCountry},
	"event_type_4-maratona":       {model.EventTypeMarathon},
	"event_type_4-meia-maratona":  {model.EventTypeHalfMarathon},
	"event_type_4-10km":           {model.EventType10K},
	"event_type_4-5km":            {model.EventType5K},
	"event_type_4-estafetas":      {model.EventTypeRelay},
	"event_type_4-kids":           {model.EventTypeKids},
	"event_type-corrida":          {model.EventTypeRun},
	"event_type-corrida-10-km":    {model.EventType10K},
	"event_type-corrida-de-15-km": {model.EventType15K},
	"event_type-backyard":         {model.EventTypeCrossCountry},
	"event_type-canicross":        {model.EventTypeCrossCountry},
	"event_type-corta-mato":       {model.EventTypeCrossCountry},
	"event_type-estafetas":        {model.EventTypeRelay},
	"event_type-etapas":           {},
	"event_type-kids":             {model.EventTypeKids},
	"event_type-kids-trail":       {model.EventTypeKids, model.EventTypeTrail},
	"event_type-legua":            {model.EventType5K},
	"event_type-maratona":         {model.EventTypeMarathon},
	"event_type-meiamaratona":     {model.EventTypeHalfMarathon},
	"event_type-milha":            {model.EventTypeMile},
	"event_type-obstaculos":       {},
	"event_type-outras":           {},
	"event_type-pista":            {},
	"event_type-running-tours":    {},
	"event_type-sao-silvestre":    {model.EventTypeSaintSilvester},
	"event_type-skyrunning":       {},
	"event_type-t-estafeta":       {model.EventTypeRelay},
	"event_type-trail-endurance":  {model.EventTypeTrail},
	"event_type-trail-ultra":      {model.EventTypeTrail},
}

var circuitTags = map[string]string{
	"event_type_5-circuito-4-estacoes":               "4 Estacoes",
	"event_type_5-circuito-atrp":                     "ATRP",
	"event_type_5-circuito-de-atletismo-do-barreiro": "Atletismo do Barreiro",
	"event_type_5-circuito-estrelas-de-portugal":     "Estrelas de Portugal",
	"event_type_5-circuito-trail-madeira":            "Trail Madeira",
	"event_type_5-majors":                            "Majors",
	"event_type_5-superhalfs":                        "SuperHalfs",
	"event_type_5-trofeu-atletismo-de-almada":        "Atletismo de Almada",
	"event_type_5-trofeu-de-almada":                  "Trofeu de Almada",
}

var standardDistances = map[model.EventType]int{
	model.EventTypeMarathon:     42195,
	model.EventTypeHalfMarathon: 21097,
	model.EventType15K:          15000,
	model.EventType10K:          10000,
	model.EventType5K:           5000,
	model.EventTypeMile:         1600,
}

// Result is the outcome of classifying one listing's tags.
type Result struct {
	Types    []model.EventType
	Circuits []string
	// Unmapped holds tags that are neither ignored nor in a table.
	Unmapped []string
}

// Ignored reports whether tag is housekeeping, a region, an organizer or a
// location tag.
func Ignored(tag string) bool {
	if _, ok := ignoredTags[tag]; ok {
		return true
	}
	for _, p := range ignoredPrefixes {
		if strings.HasPrefix(tag, p) {
			return true
		}
	}
	return false
}

// Classify maps tags to types and circuits. Unknown tags are logged and
// returned in Unmapped; they never fail classification.
func Classify(tags []string) Result {
	var res Result
	seenType := map[model.EventType]bool{}
	seenCircuit := map[string]bool{}
	seenUnmapped := map[string]bool{}

	for _, tag := range tags {
		if Ignored(tag) {
			continue
		}

		types, isType := typeTags[tag]
		circuit, isCircuit := circuitTags[tag]
		if !isType && !isCircuit {
			if !seenUnmapped[tag] {
				seenUnmapped[tag] = true
				res.Unmapped = append(res.Unmapped, tag)
				appLog.Warn("unmapped category tag", "tag", tag)
			}
			continue
		}

		for _, t := range types {
			if !seenType[t] {
				seenType[t] = true
				res.Types = append(res.Types, t)
			}
		}
		if isCircuit && !seenCircuit[circuit] {
			seenCircuit[circuit] = true
			res.Circuits = append(res.Circuits, circuit)
		}
	}
	return res
}

// StandardDistance returns the distance in meters implied by t.
func StandardDistance(t model.EventType) (int, bool) {
	d, ok := standardDistances[t]
	return d, ok
}

var (
	// distancePattern matches "10km", "10kms", "21,1 km", "5 k", "800 metros", "400m".
	distancePattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(kms|km|k|metros|m)\b`)
	thousandsGroup  = regexp.MustCompile(`^\d{1,3}\.\d{3}$`)
)

// ExtractDistances returns the distinct distances in meters mentioned in
// text, sorted, within the accepted range.
func ExtractDistances(text string) []int {
	if text == "" {
		return nil
	}

	seen := map[int]bool{}
	var out []int
	for _, m := range distancePattern.FindAllStringSubmatch(strings.ToLower(text), -1) {
		num, unit := m[1], m[2]
		if (unit == "m" || unit == "metros") && thousandsGroup.MatchString(num) {
			// "5.000 metros" uses "." as a thousands separator.
			num = strings.Replace(num, ".", "", 1)
		}
		v, err := strconv.ParseFloat(strings.Replace(num, ",", ".", 1), 64)
		if err != nil {
			continue
		}
		mult := 1.0
		if unit == "km" || unit == "kms" || unit == "k" {
			mult = 1000
		}
		d := int(math.Round(v * mult))
		if !model.ValidDistance(d) || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}
