package ics

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// mojibake maps UTF-8 sequences that were decoded as Latin-1/CP1252 back
// to the intended character.
var mojibake = strings.NewReplacer(
	"Ã¡", "á",
	"Ã\u00a0", "à",
	"Ã¢", "â",
	"Ã£", "ã",
	"Ã©", "é",
	"Ãª", "ê",
	"Ã\u00ad", "í",
	"Ã³", "ó",
	"Ã´", "ô",
	"Ãµ", "õ",
	"Ãº", "ú",
	"Ã§", "ç",
	"Ã±", "ñ",
	"â\u009c", "\"",
	"â\u009d", "\"",
	"â\u0093", "–",
	"â\u0094", "—",
	"â¢", "•",
	"â¦", "…",
)

// wordFixes covers words the calendar export mangles beyond the table
// above. Each fix applies in upper and lower case.
var wordFixes = func() *strings.Replacer {
	pairs := [][2]string{
		{"C—mara", "Câmara"},
		{"Dist—ncias", "Distâncias"},
		{"Const—ncia", "Constância"},
		{"Gr—ndola", "Grândola"},
		{"ORGANIZAÇÇO", "ORGANIZAÇÃO"},
		{"SÇO", "SÃO"},
	}
	args := make([]string, 0, len(pairs)*4)
	for _, p := range pairs {
		args = append(args, p[0], p[1])
		if lw := strings.ToLower(p[0]); lw != p[0] {
			args = append(args, lw, strings.ToLower(p[1]))
		}
	}
	return strings.NewReplacer(args...)
}()

// Repair fixes known UTF-8-read-as-Latin-1 corruption. It is idempotent
// and leaves correct text untouched.
func Repair(text string) string {
	if text == "" {
		return text
	}
	// A replacement can complete a new sequence ("Ã¢¢" -> "â¢" -> "•").
	// Every step shortens the text, so this terminates.
	for {
		next := repairSpaceA(wordFixes.Replace(mojibake.Replace(text)))
		if next == text {
			return text
		}
		text = next
	}
}

// repairSpaceA handles "à" whose second byte (NBSP) was normalised to a
// plain space. "Ã " after an upper-case letter is left alone so upper-case
// words such as "MAÇÃ DOCE" survive.
func repairSpaceA(s string) string {
	if !strings.Contains(s, "Ã ") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prev := rune(-1)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == 'Ã' && i+size < len(s) && s[i+size] == ' ' && !unicode.IsUpper(prev) {
			b.WriteRune('à')
			prev = 'à'
			i += size + 1
			continue
		}
		b.WriteRune(r)
		prev = r
		i += size
	}
	return b.String()
}
