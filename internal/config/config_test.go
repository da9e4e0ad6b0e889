package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"scorecard-monitor/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	for _, key := range []string{githubTokenEnv, gitlabTokenEnv, databaseDSNEnv, feishuWebhookEnv, logLevelEnv} {
		t.Setenv(key, "")
	}
}

func TestLoadFile_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile("")

	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.AccountTTL())
	assert.Equal(t, 24*time.Hour, cfg.Cache.RepositoryTTL())
	assert.Equal(t, 3*24*time.Hour, cfg.Cache.ScorecardTTL())
	assert.Equal(t, 8, cfg.Scorecard.Concurrency)
	assert.Equal(t, "ossf", cfg.DefaultAccount.Tag)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadFile_YAMLAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
cache:
  scorecardTtlDays: 7
github:
  token: from-file
gitlab:
  baseUrl: https://gitlab.example.com/api/v4
scorecard:
  concurrency: 2
defaultAccount:
  service: GitLab
  tag: gitlab-org
logging:
  format: json
`)
	t.Setenv(githubTokenEnv, "from-env")
	t.Setenv(databaseDSNEnv, "postgres://localhost/scorecards")

	cfg, err := LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Cache.ScorecardTTLDays)
	assert.Equal(t, 7, cfg.Cache.AccountTTLDays, "文件里没写的字段保持默认")
	assert.Equal(t, "from-env", cfg.GitHub.Token, "环境变量优先")
	assert.Equal(t, "https://gitlab.example.com/api/v4", cfg.GitLab.BaseURL)
	assert.Equal(t, 2, cfg.Scorecard.Concurrency)
	assert.Equal(t, "postgres://localhost/scorecards", cfg.Database.DSN)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "from-env", cfg.Tokens()[domain.ServiceGitHub])
}

func TestLoadFile_Invalid(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "TTL 为 0", content: "cache:\n  repositoryTtlDays: 0\n", wantErr: "repositoryTtlDays"},
		{name: "不支持的平台", content: "defaultAccount:\n  service: bitbucket\n", wantErr: "bitbucket"},
		{name: "并发数为 0", content: "scorecard:\n  concurrency: 0\n", wantErr: "concurrency"},
		{name: "日志格式", content: "logging:\n  format: xml\n", wantErr: "logging.format"},
		{name: "YAML 格式错误", content: "cache: [", wantErr: "解析配置文件"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Error(t, err)
}
