package scraper

import (
	"errors"
	"math"
	"strconv"

	"github.com/polywatch/marketd/internal/model"
)

// ErrMissingID marks a record with no recognized identity field. Such records
// are dropped at the batch level; they never abort the batch.
var ErrMissingID = errors.New("market missing id")

// placeholderTitle substitutes for records whose title fields are all absent.
const placeholderTitle = "Untitled Market"

// Upstream responses use several key names for the same field depending on
// which endpoint shape produced them. Each field resolves through its
// candidate keys in order, taking the first present, coercible value.
var (
	slugIDKeys  = []string{"slug", "marketId", "market_slug"}
	titleKeys   = []string{"question", "title", "name"}
	descKeys    = []string{"description", "descriptionText"}
	priceKeys   = []string{"currentPrice", "price", "probability"}
	volumeKeys  = []string{"volumeNum", "volume", "totalVolume"}
	endDateKeys = []string{"end_date_iso", "endDate", "end_date", "endTime"}
)

// ParseBatch converts a decoded JSON document into market records. The
// document may be a bare array, an object with a "markets" array, or the
// legacy pageProps.markets nesting; shapes are tried in that order and the
// first match wins. An unrecognized shape yields no records rather than an
// error, and records that fail to parse are skipped.
func ParseBatch(doc any) []model.Market {
	return parseEntries(extractEntries(doc))
}

func extractEntries(doc any) []any {
	switch v := doc.(type) {
	case []any:
		return v
	case map[string]any:
		if entries, ok := v["markets"].([]any); ok {
			return entries
		}
		if props, ok := v["pageProps"].(map[string]any); ok {
			if entries, ok := props["markets"].([]any); ok {
				return entries
			}
		}
	}
	return nil
}

func parseEntries(entries []any) []model.Market {
	markets := make([]model.Market, 0, len(entries))
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		m, err := ParseMarket(obj)
		if err != nil {
			continue
		}
		markets = append(markets, m)
	}
	return markets
}

// ParseMarket builds a market record from one upstream JSON object. Only a
// missing identity is an error; every other field degrades to its fallback
// or stays absent.
func ParseMarket(obj map[string]any) (model.Market, error) {
	id, ok := extractID(obj)
	if !ok {
		return model.Market{}, ErrMissingID
	}

	m := model.Market{
		ID:    id,
		Title: placeholderTitle,
	}
	if title, ok := firstString(obj, titleKeys); ok {
		m.Title = title
	}
	if desc, ok := firstString(obj, descKeys); ok {
		m.Description = &desc
	}
	if price, ok := extractPrice(obj); ok {
		m.CurrentPrice = &price
	}
	if volume, ok := firstNumeric(obj, volumeKeys); ok {
		m.Volume = &volume
	}
	if endDate, ok := firstString(obj, endDateKeys); ok {
		m.EndDate = &endDate
	}
	return m, nil
}

// extractID resolves the identity key. The "id" field may be numeric or a
// string; the slug-like alternates are strings only. Numeric identities are
// stringified.
func extractID(obj map[string]any) (string, bool) {
	switch v := obj["id"].(type) {
	case string:
		if v != "" {
			return v, true
		}
	case float64:
		return formatNumber(v), true
	}
	return firstString(obj, slugIDKeys)
}

// extractPrice prefers the first token's price from a "tokens" array, then
// falls through the flat price keys.
func extractPrice(obj map[string]any) (float64, bool) {
	if tokens, ok := obj["tokens"].([]any); ok && len(tokens) > 0 {
		if first, ok := tokens[0].(map[string]any); ok {
			if price, ok := first["price"].(float64); ok {
				return price, true
			}
		}
	}
	for _, key := range priceKeys {
		if price, ok := obj[key].(float64); ok {
			return price, true
		}
	}
	return 0, false
}

func firstString(obj map[string]any, keys []string) (string, bool) {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// firstNumeric accepts JSON numbers and numeric strings; upstream encodes
// volume both ways.
func firstNumeric(obj map[string]any, keys []string) (float64, bool) {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < math.MaxInt64 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
