package httputil_test

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/newstrace/backend/pkg/config"
	"github.com/wonny/newstrace/backend/pkg/httputil"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

// Example_basic demonstrates a quote fetch through the shared client
func Example_basic() {
	cfg := &config.Config{
		Env:      "production",
		LogLevel: "info",
		Database: config.DatabaseConfig{
			URL: "dummy",
		},
		Quotes: config.QuotesConfig{
			Timeout: 10 * time.Second,
		},
	}
	log := logger.New(cfg)

	// Create HTTP client (SSOT); the timeout comes from the quote config
	client := httputil.New(cfg, log)

	ctx := context.Background()
	resp, err := client.Get(ctx, "https://money.finance.sina.com.cn/quotes_service/api/json_v2.php/CN_MarketDataService.getKLineData")
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		return
	}
	defer resp.Body.Close()

	fmt.Printf("Status: %d\n", resp.StatusCode)
}

// ExampleRetryableStatus shows which provider answers the client
// retries on its own before the caller sees them
func ExampleRetryableStatus() {
	fmt.Println(httputil.RetryableStatus(503))
	fmt.Println(httputil.RetryableStatus(404))
	// Output:
	// true
	// false
}
