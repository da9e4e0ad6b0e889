// Package config 读取配置：默认值 < YAML 文件 < 环境变量
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"scorecard-monitor/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv    = "SCORECARD_MONITOR_CONFIG"
	githubTokenEnv   = "GITHUB_TOKEN"
	gitlabTokenEnv   = "GITLAB_TOKEN"
	databaseDSNEnv   = "DATABASE_DSN"
	feishuWebhookEnv = "FEISHU_WEBHOOK"
	logLevelEnv      = "LOG_LEVEL"
)

// Config 应用的全部配置
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Cache          CacheConfig          `yaml:"cache"`
	GitHub         ProviderConfig       `yaml:"github"`
	GitLab         ProviderConfig       `yaml:"gitlab"`
	Scorecard      ScorecardConfig      `yaml:"scorecard"`
	Notifications  NotificationConfig   `yaml:"notifications"`
	DefaultAccount DefaultAccountConfig `yaml:"defaultAccount"`
	Logging        LoggingConfig        `yaml:"logging"`
	Watch          WatchConfig          `yaml:"watch"`
}

// DatabaseConfig 为空时缓存只保存在内存里
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// CacheConfig TTL 以天为单位
type CacheConfig struct {
	AccountTTLDays    int `yaml:"accountTtlDays"`
	RepositoryTTLDays int `yaml:"repositoryTtlDays"`
	ScorecardTTLDays  int `yaml:"scorecardTtlDays"`
}

// AccountTTL 账号缓存时长
func (c CacheConfig) AccountTTL() time.Duration {
	return days(c.AccountTTLDays)
}

// RepositoryTTL 仓库列表缓存时长
func (c CacheConfig) RepositoryTTL() time.Duration {
	return days(c.RepositoryTTLDays)
}

// ScorecardTTL scorecard 缓存时长
func (c CacheConfig) ScorecardTTL() time.Duration {
	return days(c.ScorecardTTLDays)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// ProviderConfig 代码托管平台
type ProviderConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"baseUrl"`
}

// ScorecardConfig OpenSSF Scorecard API
type ScorecardConfig struct {
	APIURL      string `yaml:"apiUrl"`
	Concurrency int    `yaml:"concurrency"`
}

// NotificationConfig 推送渠道
type NotificationConfig struct {
	Feishu FeishuConfig `yaml:"feishu"`
}

// FeishuConfig 飞书机器人
type FeishuConfig struct {
	Webhook string `yaml:"webhook"`
	// LowestRepositories 卡片里列出分数最低的仓库个数
	LowestRepositories int `yaml:"lowestRepositories"`
}

// DefaultAccountConfig 没有关注任何账号时自动关注
type DefaultAccountConfig struct {
	Service string `yaml:"service"`
	Tag     string `yaml:"tag"`
}

// LoggingConfig 日志
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// WatchConfig watch 命令
type WatchConfig struct {
	Schedule      string `yaml:"schedule"`
	SweepSchedule string `yaml:"sweepSchedule"`
	MetricsAddr   string `yaml:"metricsAddr"`
}

func defaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			AccountTTLDays:    7,
			RepositoryTTLDays: 1,
			ScorecardTTLDays:  3,
		},
		Scorecard: ScorecardConfig{
			Concurrency: 8,
		},
		Notifications: NotificationConfig{
			Feishu: FeishuConfig{LowestRepositories: 5},
		},
		DefaultAccount: DefaultAccountConfig{
			Service: "github",
			Tag:     "ossf",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Watch: WatchConfig{
			Schedule:      "@every 6h",
			SweepSchedule: "@hourly",
		},
	}
}

// Load 读取 .env、SCORECARD_MONITOR_CONFIG 指向的 YAML 文件和环境变量
func Load() (Config, error) {
	// .env 不存在时什么也不做
	_ = godotenv.Load()
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile path 为空时只使用默认值和环境变量
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
		}
		// 直接解析到默认值上，文件里没写的字段保持默认
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	override(&c.GitHub.Token, githubTokenEnv)
	override(&c.GitLab.Token, gitlabTokenEnv)
	override(&c.Database.DSN, databaseDSNEnv)
	override(&c.Notifications.Feishu.Webhook, feishuWebhookEnv)
	override(&c.Logging.Level, logLevelEnv)
}

func override(field *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*field = v
	}
}

// Validate 检查配置是否可用，返回所有问题
func (c Config) Validate() error {
	var errs []error

	if c.Cache.AccountTTLDays < 1 {
		errs = append(errs, errors.New("cache.accountTtlDays 必须大于 0"))
	}
	if c.Cache.RepositoryTTLDays < 1 {
		errs = append(errs, errors.New("cache.repositoryTtlDays 必须大于 0"))
	}
	if c.Cache.ScorecardTTLDays < 1 {
		errs = append(errs, errors.New("cache.scorecardTtlDays 必须大于 0"))
	}
	if c.Scorecard.Concurrency < 1 {
		errs = append(errs, errors.New("scorecard.concurrency 必须大于 0"))
	}
	if c.DefaultAccount.Service != "" {
		if _, ok := domain.ParseService(c.DefaultAccount.Service); !ok {
			errs = append(errs, fmt.Errorf("defaultAccount.service 不支持: %q", c.DefaultAccount.Service))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format 只能是 text 或 json: %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Tokens 按平台整理的 API Token
func (c Config) Tokens() map[domain.Service]string {
	return map[domain.Service]string{
		domain.ServiceGitHub: c.GitHub.Token,
		domain.ServiceGitLab: c.GitLab.Token,
	}
}
