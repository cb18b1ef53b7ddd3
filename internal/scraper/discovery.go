package scraper

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	staticPathPrefix = "/_next/static/"

	// Shorter path segments under /_next/static/ are bundle directories,
	// not build tokens.
	minTokenLength = 10
)

// tokenPathBlocklist lists static path segments that are never build tokens.
var tokenPathBlocklist = []string{"chunks", "css", "media"}

// DiscoverBuildToken resolves the build token needed to construct the data
// endpoint URL. It fetches the homepage and looks for the token in the
// __NEXT_DATA__ script block, then in /_next/static/ asset paths. Discovery
// never fails: any fetch or parse problem degrades to the default token. It
// runs once per process lifetime; the token is assumed stable across cycles.
func DiscoverBuildToken(
	ctx context.Context,
	fetcher HTMLFetcher,
	homepageURL string,
	defaultToken string,
	logger *zap.Logger,
) string {
	html, err := fetcher.FetchHTML(ctx, homepageURL)
	if err != nil {
		logger.Warn("homepage fetch failed, using default build token",
			zap.String("token", defaultToken),
			zap.Error(err),
		)
		return defaultToken
	}

	if token, ok := extractBuildToken(html); ok {
		logger.Info("discovered build token", zap.String("token", token))
		return token
	}

	logger.Warn("no build token found in homepage, using default",
		zap.String("token", defaultToken),
	)
	return defaultToken
}

// extractBuildToken scans homepage markup for a build token. The structured
// __NEXT_DATA__ block takes precedence over asset path scanning.
func extractBuildToken(html string) (string, bool) {
	if token, ok := tokenFromNextData(html); ok {
		return token, true
	}
	return tokenFromStaticPaths(html)
}

func tokenFromNextData(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	raw := doc.Find("script#__NEXT_DATA__").First().Text()
	if raw == "" {
		return "", false
	}
	var payload struct {
		BuildID string `json:"buildId"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", false
	}
	if payload.BuildID == "" {
		return "", false
	}
	return payload.BuildID, true
}

func tokenFromStaticPaths(html string) (string, bool) {
	rest := html
	for {
		idx := strings.Index(rest, staticPathPrefix)
		if idx < 0 {
			return "", false
		}
		rest = rest[idx+len(staticPathPrefix):]
		end := strings.IndexByte(rest, '/')
		if end < 0 {
			return "", false
		}
		candidate := rest[:end]
		if isTokenCandidate(candidate) {
			return candidate, true
		}
	}
}

func isTokenCandidate(segment string) bool {
	if len(segment) <= minTokenLength {
		return false
	}
	for _, prefix := range tokenPathBlocklist {
		if strings.HasPrefix(segment, prefix) {
			return false
		}
	}
	return true
}
