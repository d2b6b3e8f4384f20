package eastmoney

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecID(t *testing.T) {
	assert.Equal(t, "1.601318", SecID("601318"))
	assert.Equal(t, "0.000001", SecID("000001"))
	assert.Equal(t, "0.300750", SecID("300750"))
}

func TestSecuCode(t *testing.T) {
	assert.Equal(t, "601318.SH", SecuCode("601318"))
	assert.Equal(t, "000001.SZ", SecuCode("000001"))
	assert.Equal(t, "830799.BJ", SecuCode("830799"))
	assert.Equal(t, "430047.BJ", SecuCode("430047"))
}

func TestFetchHolders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, string(ReportTopHolders), r.URL.Query().Get("type"))
		assert.Contains(t, r.URL.Query().Get("filter"), `SECUCODE="601318.SH"`)
		w.Write([]byte(`{
			"success": true,
			"result": {
				"data": [
					{"END_DATE": "2024-06-30 00:00:00", "NOTICE_DATE": "2024-08-23 00:00:00",
					 "HOLDER_NAME": "中央汇金资产管理有限责任公司", "HOLD_NUM": 150000000, "HOLD_RATIO": 1.23},
					{"END_DATE": "2024-03-31 00:00:00", "NOTICE_DATE": "2024-04-25 00:00:00",
					 "HOLDER_NAME": "全国社保基金一零一组合", "HOLD_NUM": 98000000, "HOLD_RATIO": 0.81}
				]
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(zerolog.Nop())
	c.holdersBase = srv.URL

	rows, err := c.FetchHolders(context.Background(), "601318", ReportTopHolders)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "中央汇金资产管理有限责任公司", rows[0].HolderName)
	assert.Equal(t, 150000000.0, rows[0].HoldNum)
	assert.Equal(t, "2024-08-23 00:00:00", rows[0].NoticeDate)
}

func TestFetchHoldersEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success": true, "result": null}`))
	}))
	defer srv.Close()

	c := NewClient(zerolog.Nop())
	c.holdersBase = srv.URL

	rows, err := c.FetchHolders(context.Background(), "999999", ReportFreeHolders)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFetchKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1.601318", r.URL.Query().Get("secid"))
		assert.Equal(t, "101", r.URL.Query().Get("klt"))
		w.Write([]byte(`{
			"data": {
				"code": "601318",
				"klines": [
					"2024-03-01,10.10,10.50,10.60,10.00,500000,525000000.0",
					"2024-03-04,10.50,10.40,10.70,10.30,420000,437000000.0"
				]
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(zerolog.Nop())
	c.klineBase = srv.URL

	bars, err := c.FetchKlines(context.Background(), "601318", "20240101", "20240630")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-03-01", bars[0].Date)
	assert.Equal(t, 10.50, bars[0].Close)
	assert.Equal(t, 500000.0, bars[0].Volume)
	assert.Equal(t, 525000000.0, bars[0].Turnover)
}

func TestFetchKlinesSkipsMalformedRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"data": {
				"code": "601318",
				"klines": [
					"garbage",
					"2024-03-01,10.10,10.50,10.60,10.00,500000,525000000.0"
				]
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(zerolog.Nop())
	c.klineBase = srv.URL

	bars, err := c.FetchKlines(context.Background(), "601318", "20240101", "20240630")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "2024-03-01", bars[0].Date)
}

func TestParseKline(t *testing.T) {
	bar, err := parseKline("2024-03-01,10.10,10.50,10.60,10.00,500000,525000000.0")
	require.NoError(t, err)
	assert.Equal(t, KlineBar{
		Date: "2024-03-01", Open: 10.10, Close: 10.50,
		High: 10.60, Low: 10.00, Volume: 500000, Turnover: 525000000.0,
	}, bar)

	_, err = parseKline("2024-03-01,10.10")
	assert.Error(t, err)
}
