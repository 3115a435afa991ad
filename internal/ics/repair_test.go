package ics

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

func TestRepairTable(t *testing.T) {
	cases := map[string]string{
		"EdiÃ§Ã£o":                 "Edição",
		"organizaÃ§Ã£o":            "organização",
		"Ã\u00a0 noite":            "à noite",
		"corrida Ã  beira-mar":     "corrida à beira-mar",
		"PraÃ§a da RepÃºblica":     "Praça da República",
		"â\u009cCorridaâ\u009d":    "\"Corrida\"",
		"10 â\u0093 21 km":         "10 – 21 km",
		"â¢ item":                  "• item",
		"e maisâ¦":                 "e mais…",
		"C—mara Municipal":         "Câmara Municipal",
		"Dist—ncias":               "Distâncias",
		"Const—ncia":               "Constância",
		"Gr—ndola":                 "Grândola",
		"ORGANIZAÇÇO":              "ORGANIZAÇÃO",
		"SÇO SILVESTRE":            "SÃO SILVESTRE",
		"sço silvestre":            "são silvestre",
		"Ã¢¢ chained":              "• chained",
	}
	for in, want := range cases {
		assert.Equal(t, want, Repair(in), in)
	}
}

func TestRepairLeavesCorrectTextAlone(t *testing.T) {
	for _, s := range []string{
		"",
		"Meia Maratona de Lisboa",
		"São Silvestre do Porto — 10 km • 5 km…",
		"Câmara Municipal de Grândola",
		"MAÇÃ DOCE",
		"ORGANIZAÇÃO: Associação Desportiva",
		"Corrida à noite, na Praça",
	} {
		assert.Equal(t, s, Repair(s), s)
	}
}

// repairAlphabet is biased towards the runes that appear in the table so
// random strings exercise overlapping and chained sequences.
var repairAlphabet = []rune("Ãâ¡¢£©ª­³´µº§±¦  \u009c\u009d\u0093\u0094—CSÇOaAmrsço")

type repairInput string

func (repairInput) Generate(r *rand.Rand, size int) reflect.Value {
	n := r.Intn(size + 1)
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteRune(repairAlphabet[r.Intn(len(repairAlphabet))])
	}
	return reflect.ValueOf(repairInput(b.String()))
}

func TestRepairIsIdempotent(t *testing.T) {
	prop := func(in repairInput) bool {
		once := Repair(string(in))
		return Repair(once) == once
	}
	assert.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 2000}))
}
