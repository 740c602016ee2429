package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountriesLoaded(t *testing.T) {
	all := GetCountries()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].Name, all[i].Name)
	}
}

func TestLookupAndValid(t *testing.T) {
	ng, ok := Lookup(" ng ")
	require.True(t, ok)
	assert.Equal(t, "Nigeria", ng.Name)
	assert.Equal(t, "NGN", ng.Currency)

	assert.True(t, Valid("KE"))
	assert.False(t, Valid("ke"))
	assert.False(t, Valid("XX"))
	assert.False(t, Valid(""))
}

func TestGetCountriesByRegion(t *testing.T) {
	africa := GetCountriesByRegion("africa")
	assert.NotEmpty(t, africa)
	for _, c := range africa {
		assert.Equal(t, "Africa", c.Region)
	}
	assert.Empty(t, GetCountriesByRegion("Atlantis"))
}
