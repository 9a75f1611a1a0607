package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/medverify/internal/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, "server:\n  addr: \":9090\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 30, cfg.RateLimit.PerMinute)

	a := cfg.Analysis
	assert.Equal(t, 5*time.Second, a.Timeout)
	assert.Equal(t, 64, a.MinWidth)
	assert.Equal(t, 70.0, a.DefaultThreshold)
	assert.Equal(t, 20.0, a.DegradedFloor)
	assert.Equal(t, 50.0, a.MinViableSimilarity)
	assert.Equal(t, 80.0, a.AuthenticThreshold)
	assert.Equal(t, 85.0, a.Bands.AuthenticAbove)
	assert.Equal(t, 70.0, a.Bands.CautionFrom)
	assert.False(t, a.OCR)
}

func TestLoadFileAnalysisTables(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, `
analysis:
  weights:
    qrCode: 2
    text: 1.5
  thresholds:
    color: 60
  severities:
    color: low
    packaging: HIGH
  recommendations:
    critical:
      - "Do not use."
`))
	require.NoError(t, err)

	weights := cfg.Analysis.FeatureWeights()
	assert.Equal(t, 2.0, weights.Of(domain.FeatureQRCode))
	assert.Equal(t, 1.5, weights.Of(domain.FeatureText))
	assert.Equal(t, 1.0, weights.Of(domain.FeatureColor))

	assert.Equal(t, map[domain.Feature]float64{domain.FeatureColor: 60}, cfg.Analysis.FeatureThresholds())
	assert.Equal(t, map[domain.Feature]domain.Severity{
		domain.FeatureColor:     domain.SeverityLow,
		domain.FeaturePackaging: domain.SeverityHigh,
	}, cfg.Analysis.FeatureSeverities())
	assert.Equal(t, []string{"Do not use."}, cfg.Analysis.Recommendations.Critical)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MEDVERIFY_ANALYSIS_TIMEOUT", "750ms")
	t.Setenv("MEDVERIFY_LOG_LEVEL", "debug")

	cfg, err := LoadFile(writeFile(t, "log:\n  level: info\n"))
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Analysis.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFileRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown cache":       "cache:\n  type: memcached\n",
		"redis without addr":  "cache:\n  type: redis\n",
		"unknown weight":      "analysis:\n  weights:\n    weight: 1\n",
		"negative weight":     "analysis:\n  weights:\n    color: -1\n",
		"threshold range":     "analysis:\n  thresholds:\n    color: 120\n",
		"unknown severity":    "analysis:\n  severities:\n    color: critical\n",
		"inverted bands":      "analysis:\n  bands:\n    authentic_above: 60\n    caution_from: 70\n",
		"zero timeout":        "analysis:\n  timeout: 0s\n",
		"zero degraded floor": "analysis:\n  degraded_floor: 0\n",
		"negative rate":       "ratelimit:\n  per_minute: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}
