package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	dev := Info{Version: "dev", CommitHash: "abcdef123456", BuildTime: "now"}
	assert.Equal(t, "kestrel dev (commit abcdef123456, built now)", dev.String())
	assert.Equal(t, "abcdef1", dev.Short())

	rel := Info{Version: "1.4.0", CommitHash: "abc", BuildTime: "now"}
	assert.True(t, strings.HasPrefix(rel.String(), "kestrel 1.4.0"))
	assert.Equal(t, "abc", rel.Short())
}

func TestIsRelease(t *testing.T) {
	for v, want := range map[string]bool{
		"dev":          false,
		"1.2.3":        true,
		"v1.2.3":       true,
		"1.2.3-rc.1":   false,
		"not-a-semver": false,
	} {
		assert.Equal(t, want, Info{Version: v}.IsRelease(), v)
	}
}

func TestSatisfies(t *testing.T) {
	ok, err := Info{Version: "1.4.0"}.Satisfies(">= 1.2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Info{Version: "1.1.9"}.Satisfies(">= 1.2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Info{Version: "dev"}.Satisfies(">= 99")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Info{Version: "1.0.0"}.Satisfies("~~ nope")
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
