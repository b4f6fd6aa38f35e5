package crawler

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases scheme and host", in: "HTTPS://Example.COM/Path", want: "https://example.com/Path"},
		{name: "strips https default port", in: "https://example.com:443/a", want: "https://example.com/a"},
		{name: "strips http default port", in: "http://example.com:80/a", want: "http://example.com/a"},
		{name: "keeps non default port", in: "http://example.com:8080/a", want: "http://example.com:8080/a"},
		{name: "drops fragment", in: "https://example.com/a#section", want: "https://example.com/a"},
		{name: "empty path becomes root", in: "https://example.com", want: "https://example.com/"},
		{name: "trims trailing slash", in: "https://example.com/docs/", want: "https://example.com/docs"},
		{name: "sorts query", in: "https://example.com/s?b=2&a=1", want: "https://example.com/s?a=1&b=2"},
		{name: "keeps repeated keys in order", in: "https://example.com/s?b=2&a=9&a=1", want: "https://example.com/s?a=9&a=1&b=2"},
		{name: "keeps semicolon pairs", in: "https://a.test/p?x=1;y=2", want: "https://a.test/p?x=1;y=2"},
		{name: "keeps unparsable escapes", in: "https://a.test/p?a=%zz", want: "https://a.test/p?a=%zz"},
		{name: "keeps escaped query bytes", in: "https://a.test/p?q=a%20b&c=%2F", want: "https://a.test/p?c=%2F&q=a%20b"},
		{name: "keeps escaped slash when trimming", in: "https://a.test/a%2Fb/", want: "https://a.test/a%2Fb"},
		{name: "trims every trailing slash", in: "https://a.test/docs///", want: "https://a.test/docs"},
		{name: "drops empty query", in: "https://a.test/p?", want: "https://a.test/p"},
		{name: "drops userinfo", in: "https://user:pw@example.com/", want: "https://example.com/"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			again, err := NormalizeURL(got)
			require.NoError(t, err)
			require.Equal(t, got, again, "normalization must be idempotent")
		})
	}
}

func TestNormalizeURLEquivalentForms(t *testing.T) {
	t.Parallel()

	forms := []string{
		"https://site.test/page",
		"https://site.test:443/page",
		"https://SITE.test/page#top",
		"https://site.test/page/",
	}
	want, err := NormalizeURL(forms[0])
	require.NoError(t, err)
	for _, f := range forms[1:] {
		got, err := NormalizeURL(f)
		require.NoError(t, err)
		require.Equal(t, want, got, f)
	}
}

func TestNormalizeURLRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"mailto:someone@example.com", "ftp://example.com/x", "/relative/only", "http://%zz"} {
		_, err := NormalizeURL(in)
		require.Error(t, err, in)
		require.True(t, errors.Is(err, ErrInvalidURL), in)
	}
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/docs/index.html")
	require.NoError(t, err)

	got, err := ResolveURL(base, "../about/#team")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/about", got)
}

func TestOriginOf(t *testing.T) {
	t.Parallel()

	origin, err := OriginOf("HTTPS://Example.com:443/a/b?c=d")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", origin)

	origin, err = OriginOf("http://example.com:8080/")
	require.NoError(t, err)
	require.Equal(t, "http://example.com:8080", origin)

	require.Equal(t, "example.com", Hostname("http://Example.com:8080/x"))
}
