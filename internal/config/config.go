package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	Profile     string            `mapstructure:"profile"`
	Station     StationConfig     `mapstructure:"station"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Events      EventsConfig      `mapstructure:"events"`
	Log         LogConfig         `mapstructure:"log"`
	API         APIConfig         `mapstructure:"api"`
	OCPP        OCPPConfig        `mapstructure:"ocpp"`
	Security    SecurityConfig    `mapstructure:"security"`
	DeviceModel []VariableSetting `mapstructure:"device_model"`
}

// VariableSetting 设备模型变量的初始值
type VariableSetting struct {
	Component string `mapstructure:"component"`
	Variable  string `mapstructure:"variable"`
	Value     string `mapstructure:"value"`
}

// StationConfig 充电站配置
type StationConfig struct {
	ID                string       `mapstructure:"id"`
	CSMSURL           string       `mapstructure:"csms_url"`
	SecurityProfile   int          `mapstructure:"security_profile"`
	BasicAuthPassword string       `mapstructure:"basic_auth_password"`
	VendorName        string       `mapstructure:"vendor_name"`
	Model             string       `mapstructure:"model"`
	SerialNumber      string       `mapstructure:"serial_number"`
	FirmwareVersion   string       `mapstructure:"firmware_version"`
	EVSEs             []EVSEConfig `mapstructure:"evses"`
}

// EVSEConfig EVSE拓扑配置
type EVSEConfig struct {
	ID         int `mapstructure:"id"`
	Connectors int `mapstructure:"connectors"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers       []string       `mapstructure:"brokers"`
	EventTopic    string         `mapstructure:"event_topic"`
	CommandTopic  string         `mapstructure:"command_topic"`
	ConsumerGroup string         `mapstructure:"consumer_group"`
	Producer      ProducerConfig `mapstructure:"producer"`
}

// ProducerConfig Kafka生产者配置
type ProducerConfig struct {
	RetryMax       int           `mapstructure:"retry_max"`
	ReturnSuccess  bool          `mapstructure:"return_successes"`
	FlushFrequency time.Duration `mapstructure:"flush_frequency"`
}

// NATSConfig NATS配置
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// EventsConfig 事件导出配置
type EventsConfig struct {
	Sink          string `mapstructure:"sink"` // kafka, nats, none
	HardwareInput bool   `mapstructure:"hardware_input"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	Async  bool   `mapstructure:"async"`
}

// APIConfig 本地状态接口配置
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// OCPPConfig OCPP协议配置
type OCPPConfig struct {
	MessageTimeout                  time.Duration `mapstructure:"message_timeout"`
	BootRetryInterval               time.Duration `mapstructure:"boot_retry_interval"`
	TransactionMessageAttempts      int           `mapstructure:"transaction_message_attempts"`
	TransactionMessageRetryInterval time.Duration `mapstructure:"transaction_message_retry_interval"`
	QueueAllMessages                bool          `mapstructure:"queue_all_messages"`
	QueuesTotalSizeThreshold        int           `mapstructure:"queues_total_size_threshold"`
	DiscardForQueueing              []string      `mapstructure:"discard_for_queueing"`
	PingInterval                    time.Duration `mapstructure:"ping_interval"`
	ReconnectMinBackoff             time.Duration `mapstructure:"reconnect_min_backoff"`
	ReconnectMaxBackoff             time.Duration `mapstructure:"reconnect_max_backoff"`
	MaxMessageSize                  int           `mapstructure:"max_message_size"`
}

// SecurityConfig 证书与密钥配置
type SecurityConfig struct {
	CertDir          string `mapstructure:"cert_dir"`
	CSMSRootCAFile   string `mapstructure:"csms_root_ca_file"`
	ContractRootFile string `mapstructure:"contract_root_file"`
}

// SetDefaults 注册所有默认值
func SetDefaults() {
	viper.SetDefault("profile", "development")

	viper.SetDefault("station.id", "CS-001")
	viper.SetDefault("station.csms_url", "ws://localhost:9000/ocpp")
	viper.SetDefault("station.security_profile", 1)
	viper.SetDefault("station.vendor_name", "ChargingPlatform")
	viper.SetDefault("station.model", "SC-201")
	viper.SetDefault("station.firmware_version", "1.0.0")
	viper.SetDefault("station.evses", []map[string]interface{}{
		{"id": 1, "connectors": 1},
		{"id": 2, "connectors": 1},
	})

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.key_prefix", "station:")
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.event_topic", "station-events")
	viper.SetDefault("kafka.command_topic", "station-hardware")
	viper.SetDefault("kafka.consumer_group", "station-controller")
	viper.SetDefault("kafka.producer.retry_max", 3)
	viper.SetDefault("kafka.producer.return_successes", true)
	viper.SetDefault("kafka.producer.flush_frequency", "500ms")

	viper.SetDefault("nats.url", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.subject_prefix", "station")

	viper.SetDefault("events.sink", "none")
	viper.SetDefault("events.hardware_input", false)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.async", false)

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.addr", ":8081")

	viper.SetDefault("ocpp.message_timeout", "60s")
	viper.SetDefault("ocpp.boot_retry_interval", "60s")
	viper.SetDefault("ocpp.transaction_message_attempts", 3)
	viper.SetDefault("ocpp.transaction_message_retry_interval", "10s")
	viper.SetDefault("ocpp.queue_all_messages", false)
	viper.SetDefault("ocpp.queues_total_size_threshold", 2000)
	viper.SetDefault("ocpp.ping_interval", "30s")
	viper.SetDefault("ocpp.reconnect_min_backoff", "1s")
	viper.SetDefault("ocpp.reconnect_max_backoff", "60s")
	viper.SetDefault("ocpp.max_message_size", 65536)

	viper.SetDefault("security.cert_dir", "./certs")
}

// Init 初始化viper：默认值、环境变量与可选配置文件
func Init(configFile string) error {
	SetDefaults()
	viper.SetEnvPrefix("STATION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile == "" {
		return nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}
	return nil
}

// Load 加载配置
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验启动必需的配置项
func (c *Config) Validate() error {
	if c.Station.ID == "" {
		return fmt.Errorf("station.id is required")
	}
	if c.Station.CSMSURL == "" {
		return fmt.Errorf("station.csms_url is required")
	}
	if len(c.Station.EVSEs) == 0 {
		return fmt.Errorf("station.evses must define at least one EVSE")
	}
	for i, evse := range c.Station.EVSEs {
		if evse.ID != i+1 {
			return fmt.Errorf("station.evses[%d]: EVSE ids must be consecutive starting at 1, got %d", i, evse.ID)
		}
		if evse.Connectors < 1 {
			return fmt.Errorf("station.evses[%d]: at least one connector required", i)
		}
	}
	switch c.Events.Sink {
	case "", "none", "kafka", "nats":
	default:
		return fmt.Errorf("unsupported events.sink %q", c.Events.Sink)
	}
	return nil
}

// GetCSMSEndpoint 获取包含站点标识的CSMS地址
func (c *Config) GetCSMSEndpoint() string {
	return strings.TrimRight(c.Station.CSMSURL, "/") + "/" + c.Station.ID
}

// GetAPIAddr 获取状态接口监听地址
func (c *Config) GetAPIAddr() string {
	return c.API.Addr
}

// ConnectorsPerEVSE 返回 EVSE ID -> 连接器数量
func (c *Config) ConnectorsPerEVSE() map[int]int {
	topology := make(map[int]int, len(c.Station.EVSEs))
	for _, evse := range c.Station.EVSEs {
		topology[evse.ID] = evse.Connectors
	}
	return topology
}

// IsDevelopment 是否开发环境
func (c *Config) IsDevelopment() bool {
	return c.Profile == "development"
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return c.Profile == "production"
}
