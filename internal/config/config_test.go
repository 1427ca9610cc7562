package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, "openai", cfg.AIProvider)
	require.Equal(t, int64(25*megabyte), cfg.MaxRubricBytes)
	require.Equal(t, int64(1000*megabyte), cfg.MaxProjectBytes)
	require.Equal(t, 15*time.Minute, cfg.ReportTTL)
	require.Equal(t, 4*time.Second, cfg.AIBackoffMin)
	require.Equal(t, 5, cfg.ContentMaxImages)
	require.True(t, cfg.ReportIncludeSummaryRows)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("GEMA_APP_PORT", ":9090")
	t.Setenv("GEMA_REPORT_TTL", "2m")
	t.Setenv("GEMA_UPLOAD_RUBRIC_MAX_MB", "5")
	t.Setenv("GEMA_AI_PROVIDER", "Azure")
	t.Setenv("GEMA_AZURE_OPENAI_API_KEY", "key")
	t.Setenv("GEMA_AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")
	t.Setenv("GEMA_AZURE_OPENAI_DEPLOYMENT", "grader")
	t.Setenv("GEMA_REPORT_INCLUDE_SUMMARY_ROWS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, 2*time.Minute, cfg.ReportTTL)
	require.Equal(t, int64(5*megabyte), cfg.MaxRubricBytes)
	require.Equal(t, "azure", cfg.AIProvider)
	require.True(t, cfg.GraderConfigured())
	require.False(t, cfg.ReportIncludeSummaryRows)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("provider", func(t *testing.T) {
		t.Setenv("GEMA_AI_PROVIDER", "bogus")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("duration", func(t *testing.T) {
		t.Setenv("GEMA_REPORT_TTL", "soon")
		_, err := Load()
		require.ErrorContains(t, err, "report.ttl")
	})
}

func TestGraderConfiguredRequiresKey(t *testing.T) {
	require.False(t, Config{AIProvider: "openai"}.GraderConfigured())
	require.True(t, Config{AIProvider: "openai", OpenAIAPIKey: "sk"}.GraderConfigured())
	require.False(t, Config{AIProvider: "azure", AzureAPIKey: "k"}.GraderConfigured())
}
