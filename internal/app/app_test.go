package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farewatch/internal/alerting"
	"farewatch/internal/config"
	"farewatch/internal/scheduler"
	"farewatch/internal/storage"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		Route: config.RouteConfig{
			Origin: "PEK", Destination: "ARN",
			DepartDate: "2026-06-16", ReturnDate: "2026-09-12",
			Adults: 1, Currency: "SEK", NonStop: true, MaxResults: 10, KeepOffers: 5,
		},
		Amadeus: config.AmadeusConfig{
			ClientID: "id", ClientSecret: "secret",
			RequestTimeout: time.Second, MaxRetries: 1,
		},
		Scheduler: config.SchedulerConfig{Mode: config.ModeTriggered, Interval: time.Hour, PollInterval: time.Second},
		Alerting:  config.AlertingConfig{PriceLimit: 8000, Timeout: time.Second},
		Storage:   config.StorageConfig{Driver: config.DriverFile, DataDir: t.TempDir()},
		Export:    config.ExportConfig{MaxDataPoints: 100},
	}

	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

// amadeusServer answers the token and flight-offers endpoints with one offer.
func amadeusServer(t *testing.T, grandTotal string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/security/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 1799})
	})
	mux.HandleFunc("/v2/shopping/flight-offers", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{
				"price": map[string]string{"grandTotal": grandTotal, "currency": "SEK"},
				"itineraries": []map[string]any{
					{"segments": []map[string]string{{"carrierCode": "SK"}}},
					{"segments": []map[string]string{{"carrierCode": "CA"}}},
				},
			}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func webhookServer(t *testing.T) (*httptest.Server, *atomic.Int32, *atomic.Pointer[[]byte]) {
	t.Helper()
	var (
		calls atomic.Int32
		last  atomic.Pointer[[]byte]
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		last.Store(&body)
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &last
}

func TestCheckDealEndToEnd(t *testing.T) {
	a, out := newTestApp(t)
	a.Config.Amadeus.BaseURL = amadeusServer(t, "7000.00").URL
	hook, calls, _ := webhookServer(t)
	a.Config.Alerting.Webhook = config.WebhookConfig{Enabled: true, URL: hook.URL}

	require.NoError(t, a.Check(context.Background()))

	var res scheduler.TriggerResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, scheduler.StatusDone, res.Status)
	require.NotNil(t, res.Result)
	assert.True(t, res.Result.IsDeal)
	assert.Equal(t, "CA, SK", res.Result.Airlines)
	assert.EqualValues(t, 1, calls.Load())

	store, err := storage.NewFileStore(a.Config.Storage.DataDir)
	require.NoError(t, err)
	defer store.Close()
	history, err := store.LoadHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Price.Equal(decimal.NewFromInt(7000)))
}

func TestCheckRecordsFetchError(t *testing.T) {
	a, out := newTestApp(t)
	a.Config.Amadeus.ClientID = ""

	require.NoError(t, a.Check(context.Background()))

	var res scheduler.TriggerResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.NotNil(t, res.Result)
	require.NotNil(t, res.Result.Error)
	assert.Contains(t, *res.Result.Error, "client id")
}

func TestShowPrintsHistory(t *testing.T) {
	a, out := newTestApp(t)
	seedHistory(t, a, 7500, 8500)

	require.NoError(t, a.Show(context.Background(), ShowOptions{Limit: 10}))
	text := out.String()
	assert.Contains(t, text, "Route: PEK -> ARN")
	assert.Contains(t, text, "Last check: never")
	assert.Contains(t, text, "7500")
	assert.Contains(t, text, "yes")
	assert.Contains(t, text, "8500")
}

func TestShowDealsOnly(t *testing.T) {
	a, out := newTestApp(t)
	seedHistory(t, a, 7500, 8500, 7900)

	require.NoError(t, a.Show(context.Background(), ShowOptions{Limit: 10, DealsOnly: true}))
	text := out.String()
	assert.Contains(t, text, "7500")
	assert.Contains(t, text, "7900")
	assert.NotContains(t, text, "8500")
}

func TestShowEmpty(t *testing.T) {
	a, out := newTestApp(t)
	require.NoError(t, a.Show(context.Background(), ShowOptions{Limit: 10}))
	assert.Contains(t, out.String(), "no price history found")
}

func TestExportCSVAndPNG(t *testing.T) {
	a, _ := newTestApp(t)
	seedHistory(t, a, 9000, 8800, 7900)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "history.csv")
	pngPath := filepath.Join(dir, "out", "history.png")
	require.NoError(t, a.Export(context.Background(), ExportOptions{CSVPath: csvPath, PNGPath: pngPath}))

	file, err := os.Open(csvPath)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"timestamp", "price", "currency", "airlines"}, records[0])
	assert.Equal(t, "7900", records[3][1])

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestExportValidation(t *testing.T) {
	a, _ := newTestApp(t)
	assert.Error(t, a.Export(context.Background(), ExportOptions{}))

	from := time.Now()
	to := from.Add(-time.Hour)
	assert.Error(t, a.Export(context.Background(), ExportOptions{CSVPath: "x.csv", From: &from, To: &to}))
}

func TestFilterWindowAndDownsample(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := make([]storage.HistoryEntry, 10)
	for i := range entries {
		entries[i] = storage.HistoryEntry{Timestamp: base.Add(time.Duration(i) * time.Hour)}
	}

	from, to := base.Add(2*time.Hour), base.Add(5*time.Hour)
	window := filterWindow(entries, &from, &to)
	require.Len(t, window, 3)
	assert.True(t, window[0].Timestamp.Equal(from))

	down := downsampleEntries(entries, 4)
	require.Len(t, down, 4)
	assert.True(t, down[0].Timestamp.Equal(base))
	assert.True(t, down[3].Timestamp.Equal(entries[9].Timestamp))
	assert.Len(t, downsampleEntries(entries, 1), 1)
}

func TestSimulateAlert(t *testing.T) {
	a, _ := newTestApp(t)
	assert.Error(t, a.SimulateAlert(context.Background(), decimal.NewFromInt(7000), "SK"))

	hook, calls, body := webhookServer(t)
	a.Config.Alerting.Webhook = config.WebhookConfig{Enabled: true, URL: hook.URL}
	require.NoError(t, a.SimulateAlert(context.Background(), decimal.NewFromInt(7000), "SK"))
	assert.EqualValues(t, 1, calls.Load())

	var payload struct {
		Alert alerting.Notification `json:"alert"`
	}
	require.NotNil(t, body.Load())
	require.NoError(t, json.Unmarshal(*body.Load(), &payload))
	assert.Equal(t, "✈ Flight Deal! 7000 SEK (< 8000 SEK)", payload.Alert.Title)
}

func seedHistory(t *testing.T, a *App, prices ...int64) {
	t.Helper()
	store, err := storage.NewFileStore(a.Config.Storage.DataDir)
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range prices {
		require.NoError(t, store.AppendHistory(context.Background(), storage.HistoryEntry{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Price:     decimal.NewFromInt(p),
			Currency:  "SEK",
			Airlines:  "SK",
		}))
	}
}
