package controller_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountryEndpointsArePublic(t *testing.T) {
	e := setup(t)

	resp := e.call(t, http.MethodGet, "/api/locations/countries", nil, "")
	require.Equal(t, http.StatusOK, resp.Status)
	countries := resp.JSON(t)["countries"].([]interface{})
	assert.NotEmpty(t, countries)

	resp = e.call(t, http.MethodGet, "/api/locations/countries?region=Africa", nil, "")
	require.Equal(t, http.StatusOK, resp.Status)
	for _, c := range resp.JSON(t)["countries"].([]interface{}) {
		assert.Equal(t, "Africa", c.(map[string]interface{})["region"])
	}

	resp = e.call(t, http.MethodGet, "/api/locations/countries/gh", nil, "")
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "Ghana", resp.JSON(t)["name"])

	resp = e.call(t, http.MethodGet, "/api/locations/countries/XX", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestRegisterRejectsUnknownCountry(t *testing.T) {
	e := setup(t)

	resp := e.call(t, http.MethodPost, "/api/auth/register", map[string]interface{}{
		"email":      "nowhere@example.com",
		"password":   "s3cretpass",
		"first_name": "Ama",
		"last_name":  "Mensah",
		"user_type":  "investor",
		"country":    "Atlantis",
	}, "")
	require.Equal(t, http.StatusBadRequest, resp.Status)
	fields := resp.JSON(t)["fields"].(map[string]interface{})
	assert.Equal(t, "must be a supported ISO country code", fields["country"])
}
