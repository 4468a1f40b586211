package quotes

import (
	"strings"
	"testing"
)

const historyFixture = `
<html><body>
<table id="FundHoldSharesTable">
  <tr>
    <td>日期</td><td>开盘价</td><td>最高价</td><td>收盘价</td><td>最低价</td><td>交易量(股)</td><td>交易金额(元)</td>
  </tr>
  <tr>
    <td><a href="#">2026-08-17</a></td><td>1,746.00</td><td>1,760.00</td><td>1,850.00</td><td>1,738.00</td><td>3,012,877</td><td>5,573,822,450</td>
  </tr>
  <tr>
    <td><a href="#">2026-08-14</a></td><td>1,700.00</td><td>1,752.00</td><td>1,745.23</td><td>1,691.50</td><td>2,876,543</td><td>5,019,334,120</td>
  </tr>
  <tr>
    <td>合计</td><td>-</td><td>-</td><td>-</td><td>-</td><td>5,889,420</td><td>10,593,156,570</td>
  </tr>
</table>
</body></html>`

func TestParseHistoryTable(t *testing.T) {
	bars, err := parseHistoryTable(historyFixture)
	if err != nil {
		t.Fatalf("parseHistoryTable() error = %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("parseHistoryTable() got %d bars, want 2", len(bars))
	}

	// Page lists newest first, result is oldest first
	if bars[0].Day != "2026-08-14" || bars[1].Day != "2026-08-17" {
		t.Errorf("parseHistoryTable() order = [%s, %s], want oldest first", bars[0].Day, bars[1].Day)
	}

	first := bars[0]
	if first.Open != 1700 {
		t.Errorf("Open = %v, want 1700", first.Open)
	}
	if first.High != 1752 {
		t.Errorf("High = %v, want 1752", first.High)
	}
	if first.Close != 1745.23 {
		t.Errorf("Close = %v, want 1745.23", first.Close)
	}
	if first.Low != 1691.5 {
		t.Errorf("Low = %v, want 1691.5", first.Low)
	}
	if first.Volume != 2876543 {
		t.Errorf("Volume = %d, want 2876543", first.Volume)
	}
}

func TestParseHistoryTable_NoTable(t *testing.T) {
	_, err := parseHistoryTable(`<html><body><p>系统维护中</p></body></html>`)
	if err == nil {
		t.Error("parseHistoryTable() expected error for page without table")
	}
}

func TestParseHistoryTable_MalformedRows(t *testing.T) {
	html := strings.ReplaceAll(historyFixture, "2026-08-14", "pending")
	bars, err := parseHistoryTable(html)
	if err != nil {
		t.Fatalf("parseHistoryTable() error = %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("parseHistoryTable() got %d bars, want 1 after dropping dateless row", len(bars))
	}
}
