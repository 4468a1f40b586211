package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/newstrace/backend/internal/contracts"
	"github.com/wonny/newstrace/backend/pkg/redis"
)

// Fetch resolves the close price of ticker on date. Lookup order: the
// in-process snapshot cache, the Redis close cache, the kline API, then
// the HTML history page. A date absent from every layer returns
// *contracts.DataUnavailableError.
// ⭐ SSOT: close price resolution goes through this method only
func (c *Client) Fetch(ctx context.Context, ticker string, date time.Time) (float64, error) {
	day := date.Format("2006-01-02")

	if price, ok := c.snapshots.Get(ticker, day); ok {
		c.count("hit_memory")
		return price, nil
	}

	var cached float64
	if found, err := c.cache.Get(ctx, redis.SnapshotKey(ticker, day), &cached); err == nil && found && cached > 0 {
		c.snapshots.Put(ticker, day, cached)
		c.count("hit_redis")
		return cached, nil
	}

	price, err := c.fetchDaily(ctx, ticker, date)
	if err == nil {
		c.count("fetched")
		return price, nil
	}
	if !contracts.IsDataUnavailable(err) {
		c.logger.WithError(err).WithField("ticker", ticker).Warn("Kline fetch failed, trying history page")
	}

	price, histErr := c.fetchHistoryClose(ctx, ticker, date)
	if histErr == nil {
		c.count("fetched_history")
		return price, nil
	}

	if contracts.IsDataUnavailable(err) || contracts.IsDataUnavailable(histErr) {
		c.count("unavailable")
		return 0, &contracts.DataUnavailableError{Ticker: ticker, Date: date}
	}
	c.count("error")
	return 0, fmt.Errorf("fetch close for %s on %s: %w", ticker, day, histErr)
}

// fetchDaily resolves one close from the kline API, caching every bar
// the response carries
func (c *Client) fetchDaily(ctx context.Context, ticker string, date time.Time) (float64, error) {
	bars, err := c.FetchKline(ctx, ticker, klineSpan(date))
	if err != nil {
		return 0, err
	}

	day := date.Format("2006-01-02")
	var price float64
	for _, bar := range bars {
		c.store(ctx, ticker, bar.Day, bar.Close)
		if bar.Day == day {
			price = bar.Close
		}
	}
	if price <= 0 {
		return 0, &contracts.DataUnavailableError{Ticker: ticker, Date: date}
	}
	return price, nil
}

// FetchKline fetches up to datalen daily bars for ticker, oldest first
func (c *Client) FetchKline(ctx context.Context, ticker string, datalen int) ([]KlineBar, error) {
	symbol, err := klineSymbol(ticker)
	if err != nil {
		return nil, err
	}

	fullURL := fmt.Sprintf(
		"%s/quotes_service/api/json_v2.php/CN_MarketData.getKLineData?symbol=%s&scale=240&ma=no&datalen=%d",
		c.baseURL, symbol, datalen,
	)

	body, err := c.fetchBody(ctx, fullURL)
	if err != nil {
		return nil, err
	}

	bars, err := parseKlineResponse(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse response failed: %w", err)
	}
	for i := range bars {
		bars[i].Ticker = ticker
	}

	c.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"count":  len(bars),
	}).Debug("Fetched kline bars")
	return bars, nil
}

// klineSpan sizes the kline request so the window reaches back to date
func klineSpan(date time.Time) int {
	days := int(time.Since(date).Hours()/24) + 5
	if days < 10 {
		days = 10
	}
	if days > 180 {
		days = 180
	}
	return days
}

// klineRow mirrors the provider JSON, which serves numbers as strings
type klineRow struct {
	Day    string `json:"day"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// parseKlineResponse parses the kline endpoint response
func parseKlineResponse(body string) ([]KlineBar, error) {
	body = strings.TrimSpace(body)

	// Some gateway variants wrap the array in a JS assignment
	if i := strings.IndexByte(body, '['); i > 0 {
		if j := strings.LastIndexByte(body, ']'); j > i {
			body = body[i : j+1]
		}
	}
	body = strings.ReplaceAll(body, "'", "\"")

	// Try JSON parsing first
	var rows []klineRow
	if err := json.Unmarshal([]byte(body), &rows); err == nil {
		bars := klineFromRows(rows)
		if len(bars) > 0 {
			return bars, nil
		}
	}

	// Fallback to regex parsing
	return parseKlineRegex(body)
}

// klineFromRows converts parsed rows, dropping anything malformed
func klineFromRows(rows []klineRow) []KlineBar {
	var bars []KlineBar
	for _, row := range rows {
		if _, err := time.Parse("2006-01-02", row.Day); err != nil {
			continue
		}
		closePrice := toFloat(row.Close)
		if closePrice <= 0 {
			continue
		}
		bars = append(bars, KlineBar{
			Day:    row.Day,
			Open:   toFloat(row.Open),
			High:   toFloat(row.High),
			Low:    toFloat(row.Low),
			Close:  closePrice,
			Volume: toInt64(row.Volume),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Day < bars[j].Day })
	return bars
}

var klinePattern = regexp.MustCompile(`"day":"(\d{4}-\d{2}-\d{2})"[^}]*?"close":"([0-9.]+)"`)

// parseKlineRegex parses using regex (fallback)
func parseKlineRegex(body string) ([]KlineBar, error) {
	matches := klinePattern.FindAllStringSubmatch(body, -1)

	var bars []KlineBar
	for _, match := range matches {
		if len(match) < 3 {
			continue
		}
		closePrice, err := strconv.ParseFloat(match[2], 64)
		if err != nil || closePrice <= 0 {
			continue
		}
		bars = append(bars, KlineBar{Day: match[1], Close: closePrice})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars recognized in response")
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Day < bars[j].Day })
	return bars, nil
}

// toFloat converts a provider number string to float64
func toFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// toInt64 converts a provider number string to int64. Volume sometimes
// arrives with a decimal point.
func toInt64(s string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(f)
}
