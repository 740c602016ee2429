package cloudflare

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKeyLayout(t *testing.T) {
	key := ObjectKey("Ada Lovelace", "Solar Farms 1a2b", "media", ".WEBP")

	assert.True(t, strings.HasPrefix(key, "users/ada-lovelace/pitches/solar-farms-1a2b/media/"), key)
	assert.True(t, strings.HasSuffix(key, ".webp"), key)
	assert.NotEqual(t, key, ObjectKey("Ada Lovelace", "Solar Farms 1a2b", "media", ".webp"))
}

func TestPublicURLRoundTrip(t *testing.T) {
	base := "https://cdn.konnectsphere.com/"
	key := "users/ada/pitches/x/documents/1-abc.pdf"

	url := PublicURL(base, key)
	assert.Equal(t, "https://cdn.konnectsphere.com/users/ada/pitches/x/documents/1-abc.pdf", url)
	assert.Equal(t, key, KeyFromURL(base, url))
}

func TestAvatarKeyLayout(t *testing.T) {
	key := AvatarKey("user-42", ".webp")

	assert.True(t, strings.HasPrefix(key, "users/user-42/avatar/"), key)
	assert.True(t, strings.HasSuffix(key, ".webp"), key)
}
