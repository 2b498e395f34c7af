package quotes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/models"
)

func TestFinnhubNormalizesQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			if r.URL.Query().Get("symbol") != "AAPL" {
				t.Errorf("unexpected symbol: %s", r.URL.Query().Get("symbol"))
			}
			w.Write([]byte(`{"c": 191.45, "o": 189.1, "h": 192.2, "l": 188.9, "pc": 190.0, "d": 1.45, "dp": 0.763, "t": 1700000000}`))
		case "/stock/candle":
			w.Write([]byte(`{"s": "ok", "c": [185.1, 186.3, 188.0, 190.0, 191.45]}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	provider := NewFinnhub("test-key", WithBaseURL(server.URL))
	quote, err := provider.GetQuote(context.Background(), "AAPL", models.Period1W)
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}

	if quote.Provider != "finnhub" {
		t.Errorf("expected provider finnhub, got %s", quote.Provider)
	}
	if quote.Current != 191.45 {
		t.Errorf("expected current 191.45, got %f", quote.Current)
	}
	if quote.PreviousClose != 190.0 {
		t.Errorf("expected previous close 190.0, got %f", quote.PreviousClose)
	}
	if len(quote.Sparkline) != 5 {
		t.Errorf("expected 5 sparkline points, got %d", len(quote.Sparkline))
	}
}

func TestFinnhubRejectsMalformedQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Unknown symbols come back as all zeros, not an HTTP error.
		w.Write([]byte(`{"c": 0, "o": 0, "h": 0, "l": 0, "pc": 0, "d": 0, "dp": 0, "t": 0}`))
	}))
	defer server.Close()

	provider := NewFinnhub("test-key", WithBaseURL(server.URL))
	_, err := provider.GetQuote(context.Background(), "NOPE", models.Period1M)
	if err == nil {
		t.Fatal("expected malformed-quote error")
	}
	if common.KindOf(err) != common.KindMalformed {
		t.Errorf("expected malformed kind, got %s", common.KindOf(err))
	}
}

func TestAlphaParsesStringFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("function") == "GLOBAL_QUOTE" {
			w.Write([]byte(`{"Global Quote": {
				"01. symbol": "AAPL",
				"02. open": "189.1000",
				"03. high": "192.2000",
				"04. low": "188.9000",
				"05. price": "191.4500",
				"06. volume": "52341000",
				"08. previous close": "190.0000",
				"09. change": "1.4500",
				"10. change percent": "0.7632%"
			}}`))
			return
		}
		w.Write([]byte(`{"Time Series (Daily)": {}}`))
	}))
	defer server.Close()

	provider := NewAlpha("test-key", WithBaseURL(server.URL))
	quote, err := provider.GetQuote(context.Background(), "AAPL", models.Period1M)
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}

	if quote.Current != 191.45 {
		t.Errorf("expected current 191.45, got %f", quote.Current)
	}
	if quote.ChangePercent != 0.7632 {
		t.Errorf("expected change percent 0.7632, got %f", quote.ChangePercent)
	}
	if quote.Volume != 52341000 {
		t.Errorf("expected volume 52341000, got %d", quote.Volume)
	}
}

func TestAlphaThrottleNote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
	}))
	defer server.Close()

	provider := NewAlpha("test-key", WithBaseURL(server.URL))
	_, err := provider.GetQuote(context.Background(), "AAPL", models.Period1M)
	if err == nil {
		t.Fatal("expected throttle error")
	}
}

func TestYahooComputesChangeFromMeta(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart": {"result": [{
			"meta": {"symbol": "TSLA", "regularMarketPrice": 250.0, "chartPreviousClose": 240.0, "regularMarketTime": 1700000000},
			"indicators": {"quote": [{
				"open": [241.0, 245.0],
				"high": [246.0, 251.0],
				"low": [239.0, 244.0],
				"close": [245.0, 250.0],
				"volume": [100, 200]
			}]}
		}], "error": null}}`))
	}))
	defer server.Close()

	provider := NewYahoo(WithBaseURL(server.URL))
	quote, err := provider.GetQuote(context.Background(), "TSLA", models.Period1W)
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}

	if quote.Change != 10.0 {
		t.Errorf("expected change 10.0, got %f", quote.Change)
	}
	wantPct := 10.0 / 240.0 * 100
	if quote.ChangePercent < wantPct-0.001 || quote.ChangePercent > wantPct+0.001 {
		t.Errorf("expected change percent ~%f, got %f", wantPct, quote.ChangePercent)
	}
	if quote.High != 251.0 || quote.Low != 239.0 {
		t.Errorf("expected high/low from bars, got %f/%f", quote.High, quote.Low)
	}
	if quote.Volume != 300 {
		t.Errorf("expected summed volume 300, got %d", quote.Volume)
	}
}

func TestIEXScalesChangePercent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/stock/aapl/quote":
			w.Write([]byte(`{"symbol": "AAPL", "latestPrice": 191.45, "open": 189.1, "high": 192.2, "low": 188.9,
				"previousClose": 190.0, "change": 1.45, "changePercent": 0.00763, "latestVolume": 52341000,
				"marketCap": 2980000000000, "latestUpdate": 1700000000000}`))
		default:
			w.Write([]byte(`[{"close": 190.0}, {"close": 191.45}]`))
		}
	}))
	defer server.Close()

	provider := NewIEX("test-key", WithBaseURL(server.URL))
	quote, err := provider.GetQuote(context.Background(), "AAPL", models.Period1W)
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}

	if quote.ChangePercent != 0.763 {
		t.Errorf("expected fraction scaled to percent, got %f", quote.ChangePercent)
	}
	if quote.MarketCap != 2980000000000 {
		t.Errorf("expected market cap carried through, got %f", quote.MarketCap)
	}
}

func TestDownsampleKeepsEndpoints(t *testing.T) {
	series := make([]float64, 100)
	for i := range series {
		series[i] = float64(i)
	}

	out := downsample(series, 10)
	if len(out) != 10 {
		t.Fatalf("expected 10 points, got %d", len(out))
	}
	if out[0] != 0 || out[9] != 99 {
		t.Errorf("expected endpoints preserved, got first=%f last=%f", out[0], out[9])
	}

	// Short series pass through untouched.
	short := []float64{1, 2, 3}
	if got := downsample(short, 10); len(got) != 3 {
		t.Errorf("expected passthrough for short series, got %d points", len(got))
	}
}
