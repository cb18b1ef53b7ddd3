package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFetcher struct {
	html string
	err  error
}

func (s *stubFetcher) FetchHTML(_ context.Context, _ string) (string, error) {
	return s.html, s.err
}

const defaultToken = "keyXdCWmEdmqkd-AH927v"

func TestDiscoverBuildTokenFromNextData(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<script id="__NEXT_DATA__" type="application/json">{"buildId":"abc123buildtoken","props":{}}</script>
	</body></html>`
	fetcher := &stubFetcher{html: html}

	token := DiscoverBuildToken(context.Background(), fetcher, "https://example.com", defaultToken, zap.NewNop())
	require.Equal(t, "abc123buildtoken", token)
}

func TestDiscoverBuildTokenFromStaticPaths(t *testing.T) {
	t.Parallel()

	html := `<html><head>
		<link href="/_next/static/css/styles.css" rel="stylesheet">
		<script src="/_next/static/chunks/main-abcdef.js"></script>
		<script src="/_next/static/media/logo.svg"></script>
		<script src="/_next/static/Xy9build-token-long/_buildManifest.js"></script>
	</head></html>`
	fetcher := &stubFetcher{html: html}

	token := DiscoverBuildToken(context.Background(), fetcher, "https://example.com", defaultToken, zap.NewNop())
	require.Equal(t, "Xy9build-token-long", token)
}

func TestDiscoverBuildTokenNextDataTakesPrecedence(t *testing.T) {
	t.Parallel()

	html := `<html>
		<script src="/_next/static/static-path-token-here/_ssgManifest.js"></script>
		<script id="__NEXT_DATA__" type="application/json">{"buildId":"structured-token"}</script>
	</html>`
	fetcher := &stubFetcher{html: html}

	token := DiscoverBuildToken(context.Background(), fetcher, "https://example.com", defaultToken, zap.NewNop())
	require.Equal(t, "structured-token", token)
}

func TestDiscoverBuildTokenFetchErrorFallsBack(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{err: errors.New("connection refused")}

	token := DiscoverBuildToken(context.Background(), fetcher, "https://example.com", defaultToken, zap.NewNop())
	require.Equal(t, defaultToken, token)
}

func TestDiscoverBuildTokenNoMatchFallsBack(t *testing.T) {
	t.Parallel()

	html := `<html><body><p>nothing useful here</p></body></html>`
	fetcher := &stubFetcher{html: html}

	token := DiscoverBuildToken(context.Background(), fetcher, "https://example.com", defaultToken, zap.NewNop())
	require.Equal(t, defaultToken, token)
}

func TestDiscoverBuildTokenShortSegmentsRejected(t *testing.T) {
	t.Parallel()

	// Segments at or below the minimum length are bundle directories.
	html := `<script src="/_next/static/short/app.js"></script>
		<script src="/_next/static/exactly10c/app.js"></script>`
	fetcher := &stubFetcher{html: html}

	token := DiscoverBuildToken(context.Background(), fetcher, "https://example.com", defaultToken, zap.NewNop())
	require.Equal(t, defaultToken, token)
}

func TestIsTokenCandidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		segment string
		want    bool
	}{
		{"chunks-but-long-enough", false},
		{"css-styles-long-name", false},
		{"media-assets-folder", false},
		{"short", false},
		{"a-real-build-token", true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, isTokenCandidate(tc.segment), "segment %q", tc.segment)
	}
}
