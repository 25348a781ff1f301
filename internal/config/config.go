package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Disburse DisburseConfig `mapstructure:"disburse"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 数据库配置, driver 为 postgres 或 sqlite
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

// ChainConfig 链配置
type ChainConfig struct {
	ChainId         int64         `mapstructure:"chain_id"`         // 链ID
	RpcUrl          string        `mapstructure:"rpc_url"`          // RPC节点URL
	PrivateKey      string        `mapstructure:"private_key"`      // 签名私钥
	ContractAddress string        `mapstructure:"contract_address"` // DisasterFund 合约地址
	ABIPath         string        `mapstructure:"abi_path"`         // 为空时使用内置ABI
	GasLimit        uint64        `mapstructure:"gas_limit"`        // 估算失败时的默认gas上限
	GasMarkup       int64         `mapstructure:"gas_markup"`       // 百分比
	RetryGasMarkup  int64         `mapstructure:"retry_gas_markup"` // 百分比
	ReceiptTimeout  time.Duration `mapstructure:"receipt_timeout"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	RPCRateLimit    float64       `mapstructure:"rpc_rate_limit"` // 每秒请求数, 0 不限制
}

type PollerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MaxBlockRange  uint64        `mapstructure:"max_block_range"`
	ResyncLookback uint64        `mapstructure:"resync_lookback"`
	PersistCursor  bool          `mapstructure:"persist_cursor"`
}

type DisburseConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	DustFloor   string        `mapstructure:"dust_floor"` // ETH
	Concurrency int           `mapstructure:"concurrency"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

// Load 从 config.yaml 和环境变量加载配置
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/relief")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return LoadFrom(v)
}

// LoadFrom 在给定的 viper 实例上设置默认值并解析配置
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// CHAIN_PRIVATE_KEY -> chain.private_key
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5050")
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "dev.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "relief")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("chain.chain_id", 11155111)
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.contract_address", "")
	v.SetDefault("chain.abi_path", "")
	v.SetDefault("chain.gas_limit", 500000)
	v.SetDefault("chain.gas_markup", 20)
	v.SetDefault("chain.retry_gas_markup", 50)
	v.SetDefault("chain.receipt_timeout", 120*time.Second)
	v.SetDefault("chain.dial_timeout", 15*time.Second)
	v.SetDefault("chain.rpc_rate_limit", 10)

	v.SetDefault("poller.interval", 5*time.Second)
	v.SetDefault("poller.max_block_range", 2000)
	v.SetDefault("poller.resync_lookback", 50000)
	v.SetDefault("poller.persist_cursor", false)

	v.SetDefault("disburse.enabled", true)
	v.SetDefault("disburse.interval", 60*time.Second)
	v.SetDefault("disburse.dust_floor", "0.01")
	v.SetDefault("disburse.concurrency", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
}

// Validate 校验启动必需的配置项
func (c *Config) Validate() error {
	var missing []string
	if c.Chain.RpcUrl == "" {
		missing = append(missing, "chain.rpc_url")
	}
	if c.Chain.PrivateKey == "" {
		missing = append(missing, "chain.private_key")
	}
	if c.Chain.ContractAddress == "" {
		missing = append(missing, "chain.contract_address")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Chain.GasMarkup < 0 || c.Chain.RetryGasMarkup <= c.Chain.GasMarkup {
		return fmt.Errorf("retry_gas_markup (%d) must exceed gas_markup (%d)", c.Chain.RetryGasMarkup, c.Chain.GasMarkup)
	}
	if c.Poller.Interval <= 0 || c.Disburse.Interval <= 0 {
		return errors.New("poller.interval and disburse.interval must be positive")
	}
	if c.Poller.MaxBlockRange == 0 {
		return errors.New("poller.max_block_range must be positive")
	}
	return nil
}
