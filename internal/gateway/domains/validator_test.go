package domains

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowed(t *testing.T) {
	cases := []struct {
		name  string
		host  string
		allow []string
		want  bool
	}{
		{"subdomain", "a.b.com", []string{"b.com"}, true},
		{"exact", "b.com", []string{"b.com"}, true},
		{"suffix without dot", "evilb.com", []string{"b.com"}, false},
		{"nil list", "anything.io", nil, true},
		{"empty list", "anything.io", []string{}, true},
		{"case insensitive", "CDN.Example.COM", []string{"example.com"}, true},
		{"trailing dot", "example.com.", []string{"example.com"}, true},
		{"parent not allowed by child", "b.com", []string{"a.b.com"}, false},
		{"second entry", "img.other.org", []string{"b.com", "other.org"}, true},
		{"empty host", "", []string{"b.com"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsAllowed(tc.host, tc.allow))
		})
	}
}

func TestHostFromURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com/cat.jpg":           "example.com",
		"example.com/cat.jpg":                   "example.com",
		"http://example.com:8080/a":             "example.com",
		"https://user:pw@example.com/a":         "example.com",
		"https://good.com@evil.com/x":           "evil.com",
		"https://evil.com/good.com":             "evil.com",
		"https://EXAMPLE.com./cat.jpg?x=1#frag": "example.com",
	}
	for raw, want := range cases {
		got, ok := HostFromURL(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"", "https://", "http://%zz/"} {
		_, ok := HostFromURL(raw)
		assert.False(t, ok, raw)
	}
}

func TestAllowedURLFailsClosed(t *testing.T) {
	assert.False(t, AllowedURL("https://", nil))
	assert.False(t, AllowedURL("https://good.com@evil.com/x", []string{"good.com"}))
	assert.True(t, AllowedURL("https://cdn.good.com/x.png", []string{"good.com"}))
	assert.True(t, AllowedURL("https://anything.net/x.png", nil))
}
