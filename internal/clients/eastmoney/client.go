// Package eastmoney is a client for the EastMoney public market data APIs:
// the datacenter securities endpoint for disclosed holders and the push2his
// endpoint for daily kline bars.
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/holdwatch/internal/domain"
)

const (
	holdersURL = "https://datacenter.eastmoney.com/securities/api/data/get"
	klineURL   = "http://push2his.eastmoney.com/api/qt/stock/kline/get"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	referer   = "https://data.eastmoney.com/"

	maxRetries = 3
)

// Client is an EastMoney API client with bounded retries.
type Client struct {
	client      *http.Client
	log         zerolog.Logger
	holdersBase string
	klineBase   string
}

// NewClient creates a new EastMoney client.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		log:         log.With().Str("client", "eastmoney").Logger(),
		holdersBase: holdersURL,
		klineBase:   klineURL,
	}
}

// SecID returns the push2his security id for an instrument code.
// Shanghai listings (6-prefix) use market 1, everything else market 0.
func SecID(code string) string {
	if strings.HasPrefix(code, "6") {
		return "1." + code
	}
	return "0." + code
}

// SecuCode returns the datacenter security code with its exchange suffix.
func SecuCode(code string) string {
	switch {
	case strings.HasPrefix(code, "6"):
		return code + ".SH"
	case strings.HasPrefix(code, "8"), strings.HasPrefix(code, "4"), strings.HasPrefix(code, "9"):
		return code + ".BJ"
	default:
		return code + ".SZ"
	}
}

// FetchHolders returns disclosed holder rows for one instrument and report
// type, newest period first, up to about five years of history.
func (c *Client) FetchHolders(ctx context.Context, code string, report HolderReportType) ([]HolderRow, error) {
	params := url.Values{}
	params.Set("type", string(report))
	params.Set("sty", "END_DATE,NOTICE_DATE,HOLDER_NAME,HOLD_NUM,HOLD_RATIO,HOLD_NUM_CHANGE")
	params.Set("filter", fmt.Sprintf(`(SECUCODE="%s")`, SecuCode(code)))
	params.Set("p", "1")
	params.Set("ps", "50")
	params.Set("st", "END_DATE")
	params.Set("sr", "-1")
	params.Set("source", "SELECT_SECU_DATA")
	params.Set("client", "WEB")

	body, err := c.get(ctx, c.holdersBase+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: holders fetch for %s: %v", domain.ErrUpstream, code, err)
	}

	var resp holderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: holders response for %s: %v", domain.ErrUpstream, code, err)
	}

	if resp.Result == nil {
		// Empty result is normal for instruments with no tracked holders.
		return nil, nil
	}
	return resp.Result.Data, nil
}

// FetchKlines returns daily bars for [beg, end], dates formatted YYYYMMDD.
func (c *Client) FetchKlines(ctx context.Context, code, beg, end string) ([]KlineBar, error) {
	params := url.Values{}
	params.Set("secid", SecID(code))
	params.Set("klt", "101")
	params.Set("fqt", "1")
	params.Set("lmt", "2000")
	params.Set("beg", beg)
	params.Set("end", end)
	params.Set("fields1", "f1")
	params.Set("fields2", "f51,f52,f53,f54,f55,f56,f57")

	body, err := c.get(ctx, c.klineBase+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: kline fetch for %s: %v", domain.ErrUpstream, code, err)
	}

	var resp klineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: kline response for %s: %v", domain.ErrUpstream, code, err)
	}

	if resp.Data == nil || len(resp.Data.Klines) == 0 {
		return nil, nil
	}

	bars := make([]KlineBar, 0, len(resp.Data.Klines))
	for _, line := range resp.Data.Klines {
		bar, err := parseKline(line)
		if err != nil {
			c.log.Warn().Err(err).Str("code", code).Str("line", line).Msg("Skipping malformed kline row")
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseKline decodes one comma-joined kline row:
// date,open,close,high,low,volume,turnover.
func parseKline(line string) (KlineBar, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 7 {
		return KlineBar{}, fmt.Errorf("expected 7 fields, got %d", len(parts))
	}

	vals := make([]float64, 6)
	for i, raw := range parts[1:7] {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return KlineBar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i] = v
	}

	return KlineBar{
		Date:     parts[0],
		Open:     vals[0],
		Close:    vals[1],
		High:     vals[2],
		Low:      vals[3],
		Volume:   vals[4],
		Turnover: vals[5],
	}, nil
}

// get performs a GET with browser headers and exponential backoff retries.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<uint(attempt-1)) * time.Second
			c.log.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("wait", wait).Msg("Retrying request")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := c.doOnce(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", referer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
