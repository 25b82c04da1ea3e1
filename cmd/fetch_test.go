package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rasnes/alphavantage-warehouse/extract"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSentiment_PrintsNaiveTimestamps(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items": "1", "feed": [{
			"time_published": "20240105T143000",
			"source_domain": "www.benzinga.com",
			"ticker_sentiment": [{"ticker": "IBM", "relevance_score": "0.801", "ticker_sentiment_label": "Bullish"}]
		}]}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	base := fmt.Sprintf("extract:\n  requests_per_minute: 0\nalphavantage:\n  base_url: %s/query\n", server.URL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.base.yaml"), []byte(base), 0o644))
	chdir(t, dir)
	t.Setenv("GITHUB_ACTIONS", "true")
	t.Setenv("APP_ENV", "")
	t.Setenv(extract.TokenEnv, "test_token")
	viper.Reset()
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	cmd := newFetchCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sentiment", "IBM"})
	require.NoError(t, cmd.Execute())

	assert.JSONEq(t, `[{
		"ticker": "IBM",
		"time_published": "2024-01-05 14:30",
		"source_domain": "www.benzinga.com",
		"relevance_score": "0.801",
		"ticker_sentiment_label": "Bullish"
	}]`, out.String())
	assert.NotContains(t, out.String(), "Z\"")
}
