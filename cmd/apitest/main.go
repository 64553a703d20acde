// apitest queries every quotation endpoint once for a single stock and
// prints the raw JSON responses.
//
// Usage: go run ./cmd/apitest --config configs/gateway.example.yaml --code 005930
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/rickgao/kis-data/internal/api"
	"github.com/rickgao/kis-data/internal/auth"
	"github.com/rickgao/kis-data/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/gateway.example.yaml", "path to config file")
	code := flag.String("code", "005930", "stock code")
	etf := flag.String("etf", "069500", "ETF code")
	start := flag.String("start", time.Now().AddDate(0, -1, 0).Format("20060102"), "history start date (YYYYMMDD)")
	end := flag.String("end", time.Now().Format("20060102"), "history end date (YYYYMMDD)")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	creds := auth.Credentials{AppKey: cfg.API.AppKey, AppSecret: cfg.API.AppSecret}
	tokens := auth.NewTokenManager(cfg.API.RestURL, creds, auth.WithExpiryMargin(cfg.API.TokenExpiryMargin))
	client := api.NewClient(cfg.API.RestURL, creds, tokens,
		api.WithTimeout(cfg.API.Timeout),
		api.WithCustType(cfg.API.CustType),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Test 1: Current price
	show(fmt.Sprintf("InquirePrice (%s)", *code), func() (json.RawMessage, error) {
		return client.InquirePrice(ctx, *code)
	})

	// Test 2: Daily chart
	show(fmt.Sprintf("DailyChartPrice (%s %s-%s)", *code, *start, *end), func() (json.RawMessage, error) {
		return client.DailyChartPrice(ctx, *code, *start, *end)
	})

	// Test 3: ETF price
	show(fmt.Sprintf("ETFPrice (%s)", *etf), func() (json.RawMessage, error) {
		return client.ETFPrice(ctx, *etf)
	})

	// Test 4: News
	show(fmt.Sprintf("NewsTitles (%s)", *code), func() (json.RawMessage, error) {
		return client.NewsTitles(ctx, *code)
	})

	// Test 5: Every financial statement type
	for _, dataType := range api.DataTypes() {
		show(fmt.Sprintf("FinancialStatement (%s %s)", *code, dataType), func() (json.RawMessage, error) {
			return client.FinancialStatement(ctx, *code, dataType)
		})
	}

	if tok, ok := tokens.Current(); ok {
		fmt.Printf("\nToken expires at %s\n", tok.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println("\n=== Done ===")
}

// show runs one call and prints its indented response or error.
func show(title string, call func() (json.RawMessage, error)) {
	fmt.Printf("\n=== %s ===\n", title)

	body, err := call()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && len(apiErr.Body) > 0 {
			fmt.Printf("body: %s\n", apiErr.Body)
		}
		return
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(out.String())
}
