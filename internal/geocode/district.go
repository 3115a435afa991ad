package geocode

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// districtCodes is keyed by folded name (see fold). Mainland districts use
// their ISO 3166-2:PT number; the autonomous regions use 20 and 30.
var districtCodes = map[string]int{
	"aveiro":           1,
	"beja":             2,
	"braga":            3,
	"braganca":         4,
	"castelo branco":   5,
	"coimbra":          6,
	"evora":            7,
	"faro":             8,
	"guarda":           9,
	"leiria":           10,
	"lisboa":           11,
	"lisbon":           11,
	"portalegre":       12,
	"porto":            13,
	"santarem":         14,
	"setubal":          15,
	"viana do castelo": 16,
	"vila real":        17,
	"viseu":            18,
	"acores":           20,
	"azores":           20,
	"madeira":          30,
}

var namePrefixes = []string{
	"distrito de ",
	"regiao autonoma dos ",
	"regiao autonoma da ",
	"autonomous region of the ",
	"autonomous region of ",
}

// DistrictCode maps a district or autonomous-region name to its code.
// Matching ignores case, accents and the "Distrito de" and "Região
// Autónoma" forms.
func DistrictCode(name string) (int, bool) {
	key := fold(name)
	if key == "" {
		return 0, false
	}
	for _, p := range namePrefixes {
		if strings.HasPrefix(key, p) {
			key = strings.TrimPrefix(key, p)
			break
		}
	}
	code, ok := districtCodes[key]
	return code, ok
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}
