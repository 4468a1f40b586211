package quotes

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/newstrace/backend/internal/contracts"
)

// FetchHistory scrapes the quarterly history page for ticker and
// returns the daily bars it lists, oldest first. The page is organized
// by calendar year and quarter (jidu 1..4).
func (c *Client) FetchHistory(ctx context.Context, ticker string, year, quarter int) ([]KlineBar, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	parts := strings.SplitN(ticker, ".", 2)
	if parts[0] == "" {
		return nil, fmt.Errorf("malformed ticker %q", ticker)
	}
	if quarter < 1 || quarter > 4 {
		return nil, fmt.Errorf("quarter out of range: %d", quarter)
	}

	path := fmt.Sprintf("/corp/go.php/vMS_MarketHistory/stockid/%s/type/phfq.phtml", parts[0])
	params := url.Values{}
	params.Set("year", strconv.Itoa(year))
	params.Set("jidu", strconv.Itoa(quarter))

	html, err := c.fetchHTML(ctx, path, params)
	if err != nil {
		return nil, fmt.Errorf("fetch history page failed: %w", err)
	}

	bars, err := parseHistoryTable(html)
	if err != nil {
		return nil, err
	}
	for i := range bars {
		bars[i].Ticker = ticker
	}

	c.logger.WithFields(map[string]interface{}{
		"ticker":  ticker,
		"year":    year,
		"quarter": quarter,
		"count":   len(bars),
	}).Debug("Fetched history bars")
	return bars, nil
}

// fetchHistoryClose resolves one close from the history page of the
// quarter containing date, caching every bar on the page
func (c *Client) fetchHistoryClose(ctx context.Context, ticker string, date time.Time) (float64, error) {
	year := date.Year()
	quarter := (int(date.Month())-1)/3 + 1

	bars, err := c.FetchHistory(ctx, ticker, year, quarter)
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

var historyDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// parseHistoryTable parses the daily table on the history page. Column
// order there is date, open, high, close, low, volume, turnover.
func parseHistoryTable(html string) ([]KlineBar, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse HTML failed: %w", err)
	}

	table := doc.Find("table#FundHoldSharesTable")
	if table.Length() == 0 {
		return nil, fmt.Errorf("history table not found")
	}

	parseNum := func(s string) float64 {
		s = strings.TrimSpace(s)
		s = strings.ReplaceAll(s, ",", "")
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}

	var bars []KlineBar
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 6 {
			return // Header or spacer row
		}

		day := historyDatePattern.FindString(strings.TrimSpace(cells.Eq(0).Text()))
		if day == "" {
			return
		}

		closePrice := parseNum(cells.Eq(3).Text())
		if closePrice <= 0 {
			return
		}

		bars = append(bars, KlineBar{
			Day:    day,
			Open:   parseNum(cells.Eq(1).Text()),
			High:   parseNum(cells.Eq(2).Text()),
			Close:  closePrice,
			Low:    parseNum(cells.Eq(4).Text()),
			Volume: int64(parseNum(cells.Eq(5).Text())),
		})
	})

	// The page lists newest first
	sort.Slice(bars, func(i, j int) bool { return bars[i].Day < bars[j].Day })
	return bars, nil
}
