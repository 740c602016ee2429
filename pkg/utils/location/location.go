package location

import (
	_ "embed"
	"encoding/json"
	"sort"
	"strings"
)

type Country struct {
	Name     string `json:"name"`
	ISO2     string `json:"iso2"` // NG, KE, US
	Region   string `json:"region"`
	Currency string `json:"currency"`
}

//go:embed data/countries.json
var countriesJSON []byte

var (
	countries []Country
	byCode    map[string]Country
)

func init() {
	if err := json.Unmarshal(countriesJSON, &countries); err != nil {
		panic("location: bad embedded country list: " + err.Error())
	}
	sort.Slice(countries, func(i, j int) bool { return countries[i].Name < countries[j].Name })

	byCode = make(map[string]Country, len(countries))
	for _, c := range countries {
		byCode[c.ISO2] = c
	}
}

// GetCountries returns the markets users and pitches can be listed in.
func GetCountries() []Country {
	return countries
}

// GetCountriesByRegion filters by region name, case-insensitively.
func GetCountriesByRegion(region string) []Country {
	var out []Country
	for _, c := range countries {
		if strings.EqualFold(c.Region, region) {
			out = append(out, c)
		}
	}
	return out
}

func Lookup(iso2 string) (Country, bool) {
	c, ok := byCode[strings.ToUpper(strings.TrimSpace(iso2))]
	return c, ok
}

// Valid reports whether iso2 is a supported country code. Codes are
// stored upper-case.
func Valid(iso2 string) bool {
	_, ok := byCode[iso2]
	return ok
}
