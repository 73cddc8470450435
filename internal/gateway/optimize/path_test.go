package optimize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecomposePath(t *testing.T) {
	cases := []struct {
		in     string
		ops    string
		image  string
		source string
	}{
		{"/w_300,f_webp/example.com/cat.jpg", "w_300,f_webp", "example.com/cat.jpg", "https://example.com/cat.jpg"},
		{"/_/https:/example.com/a/b.png", "_", "https://example.com/a/b.png", "https://example.com/a/b.png"},
		{"/_/https://example.com/a.png", "_", "https://example.com/a.png", "https://example.com/a.png"},
		{"/w_1/http:/example.com/a.png", "w_1", "http://example.com/a.png", "http://example.com/a.png"},
		{"/w_1/example.com/my%20cat.jpg", "w_1", "example.com/my cat.jpg", "https://example.com/my cat.jpg"},
		{"/s_10%2C20/example.com/a.png", "s_10,20", "example.com/a.png", "https://example.com/a.png"},
	}
	for _, tc := range cases {
		p, err := DecomposePath(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.ops, p.Operations, tc.in)
		assert.Equal(t, tc.image, p.Image, tc.in)
		assert.Equal(t, tc.source, p.Source(), tc.in)
	}
}

func TestDecomposePathMalformed(t *testing.T) {
	for _, in := range []string{"", "/", "/w_300", "/w_300/", "//example.com/a.png", "/w_1/example.com/%zz", "/%zz/example.com/a.png"} {
		_, err := DecomposePath(in)
		require.Error(t, err, in)

		var e *Error
		require.True(t, errors.As(err, &e), in)
		assert.Equal(t, KindMalformedPath, e.Kind, in)
	}
}

func TestCanonical(t *testing.T) {
	p, err := DecomposePath("/w_300/https:/example.com/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/w_300/https://example.com/cat.jpg", p.Canonical())
}
