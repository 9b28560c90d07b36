package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aem-reporter/internal/config"
	"aem-reporter/internal/graph"
	"aem-reporter/internal/reporter"
)

const seed = `
rule_sets:
  - default_currency: USD
    cutoff_time: 1
    valid_from: 10000
    config_mode: DEFAULT
    conversion_value_rules:
      - conversion_value: 6
        priority: 10
        events:
          - event_name: fb_mobile_purchase
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	var cfg config.Config
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Storage.Backend = "memory"
	cfg.Graph.AppID = "123"
	cfg.Seed.File = path
	return cfg
}

func post(t *testing.T, h http.Handler, path, body string) int {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return w.Code
}

func status(t *testing.T, h http.Handler) reporter.Status {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var st reporter.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func TestServer_EndToEnd(t *testing.T) {
	srv, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	h := srv.Handler()

	assert.False(t, status(t, h).Enabled)
	require.Equal(t, http.StatusOK, post(t, h, "/v1/enable", ""))

	link := `fb123://test.com?al_applink_data=%7B%22acs_token%22%3A+%22acstoken%22%2C+%22campaign_id%22%3A+%22campaignid%22%7D`
	require.Equal(t, http.StatusAccepted, post(t, h, "/v1/deeplinks", `{"url":"`+link+`"}`))
	require.Equal(t, http.StatusAccepted, post(t, h, "/v1/events", `{"event_name":"fb_mobile_purchase","currency":"USD","value":10}`))

	assert.Eventually(t, func() bool {
		st := srv.reporter.Status()
		return st.Invocations == 1 && st.PendingAggregation == 0 && st.Configurations["DEFAULT"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	invs := srv.reporter.Invocations()
	require.Len(t, invs, 1)
	assert.Equal(t, 6, invs[0].ConversionValue)
}

func TestServer_EnabledFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reporter.Enabled = true
	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	assert.True(t, srv.reporter.IsEnabled())
}

func TestNewTransport(t *testing.T) {
	var cfg config.Config
	tr, err := newTransport(cfg)
	require.NoError(t, err)
	assert.IsType(t, &graph.Static{}, tr)

	cfg.Graph.BaseURL = "https://graph.example.com"
	cfg.Graph.RatePerSecond, cfg.Graph.Burst = 1, 1
	tr, err = newTransport(cfg)
	require.NoError(t, err)
	assert.IsType(t, &graph.Client{}, tr)

	cfg.Graph.BaseURL = ""
	cfg.Seed.File = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = newTransport(cfg)
	assert.Error(t, err)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "cassandra"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
