package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Log       LogConfig       `mapstructure:"log"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Narrative NarrativeConfig `mapstructure:"narrative"`
	News      NewsConfig      `mapstructure:"news"`
	Lore      LoreConfig      `mapstructure:"lore"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Path              string        `mapstructure:"path"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	SendBufferSize    int           `mapstructure:"send_buffer_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// LLMConfig 模型服务配置
type LLMConfig struct {
	Provider            string        `mapstructure:"provider"` // openai, simulated
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	Model               string        `mapstructure:"model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// NarrativeConfig 叙事编排配置
type NarrativeConfig struct {
	ContextThresholdPercent float64        `mapstructure:"context_threshold_percent"`
	RecentMessages          int            `mapstructure:"recent_messages"`
	DetectorEvents          int            `mapstructure:"detector_events"`
	NewsItems               int            `mapstructure:"news_items"`
	MaxToolRounds           int            `mapstructure:"max_tool_rounds"`
	LoreTopK                int            `mapstructure:"lore_top_k"`
	MaxDice                 int            `mapstructure:"max_dice"`
	MaxDiceSides            int            `mapstructure:"max_dice_sides"`
	GMMarker                string         `mapstructure:"gm_marker"`
	ModelWindows            map[string]int `mapstructure:"model_windows"`
}

// NewsConfig 新闻巡检配置
type NewsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	EventLimit    int           `mapstructure:"event_limit"`
	Concurrency   int           `mapstructure:"concurrency"`
	DetectOnSweep bool          `mapstructure:"detect_on_sweep"`
}

// LoreConfig 设定检索配置
type LoreConfig struct {
	Driver string `mapstructure:"driver"` // database, postgres
	DSN    string `mapstructure:"dsn"`
}

// TelemetryConfig 链路追踪配置
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 环境变量覆盖，例如 INFLUENCE_RPG_LLM_API_KEY
		v.SetEnvPrefix("INFLUENCE_RPG")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		setDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			// 配置文件不存在时使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		loaded := &Config{}
		if err = v.Unmarshal(loaded); err != nil {
			return
		}
		if err = Validate(loaded); err != nil {
			return
		}

		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})

	return err
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/influence-rpg.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	// WebSocket默认配置
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.enable_compression", false)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "influence-rpg.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	// 模型默认配置
	v.SetDefault("llm.provider", "simulated")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.embedding_model", "text-embedding-004")
	v.SetDefault("llm.embedding_dimensions", 384)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_backoff", "2s")
	v.SetDefault("llm.timeout", "60s")

	// 叙事默认配置
	v.SetDefault("narrative.context_threshold_percent", 50.0)
	v.SetDefault("narrative.recent_messages", 20)
	v.SetDefault("narrative.detector_events", 20)
	v.SetDefault("narrative.news_items", 5)
	v.SetDefault("narrative.max_tool_rounds", 4)
	v.SetDefault("narrative.lore_top_k", 5)
	v.SetDefault("narrative.max_dice", 100)
	v.SetDefault("narrative.max_dice_sides", 1000)
	v.SetDefault("narrative.gm_marker", "/gm")

	// 新闻巡检默认配置
	v.SetDefault("news.enabled", true)
	v.SetDefault("news.interval", "30m")
	v.SetDefault("news.event_limit", 50)
	v.SetDefault("news.concurrency", 4)
	v.SetDefault("news.detect_on_sweep", false)

	// 设定检索默认配置
	v.SetDefault("lore.driver", "database")

	// 链路追踪默认配置
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "influence-rpg")
}

// Validate 校验配置取值
func Validate(c *Config) error {
	if c.Narrative.ContextThresholdPercent <= 0 || c.Narrative.ContextThresholdPercent > 100 {
		return fmt.Errorf("narrative.context_threshold_percent 超出范围: %v", c.Narrative.ContextThresholdPercent)
	}
	if c.Narrative.RecentMessages <= 0 {
		return fmt.Errorf("narrative.recent_messages 必须大于0")
	}
	if c.Narrative.MaxToolRounds <= 0 {
		return fmt.Errorf("narrative.max_tool_rounds 必须大于0")
	}
	if c.Narrative.MaxDice <= 0 || c.Narrative.MaxDiceSides <= 0 {
		return fmt.Errorf("narrative.max_dice 与 narrative.max_dice_sides 必须大于0")
	}
	if c.News.Enabled && c.News.Interval <= 0 {
		return fmt.Errorf("news.interval 必须大于0")
	}
	switch c.LLM.Provider {
	case "openai", "simulated":
	default:
		return fmt.Errorf("不支持的模型服务: %s", c.LLM.Provider)
	}
	switch c.Lore.Driver {
	case "database", "postgres":
	default:
		return fmt.Errorf("不支持的设定检索驱动: %s", c.Lore.Driver)
	}
	return nil
}

// Default 返回仅包含默认值的配置，供测试和命令行工具使用
func Default() *Config {
	dv := viper.New()
	setDefaults(dv)
	c := &Config{}
	_ = dv.Unmarshal(c)
	return c
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := Validate(newCfg); err != nil {
			fmt.Printf("配置重载校验失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}

		fmt.Printf("配置已重新加载: %s\n", e.Name)
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetInt 获取整数配置
func GetInt(key string) int {
	return v.GetInt(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}
