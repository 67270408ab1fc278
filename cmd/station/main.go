package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/spf13/viper"

	"github.com/charging-platform/charging-station-controller/internal/api"
	"github.com/charging-platform/charging-station-controller/internal/business/chargepoint"
	"github.com/charging-platform/charging-station-controller/internal/business/registration"
	"github.com/charging-platform/charging-station-controller/internal/config"
	"github.com/charging-platform/charging-station-controller/internal/devicemodel"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/message"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/security"
	"github.com/charging-platform/charging-station-controller/internal/smartcharging"
	"github.com/charging-platform/charging-station-controller/internal/storage"
	"github.com/charging-platform/charging-station-controller/internal/transport/websocket"
)

// Options 命令行参数，优先级高于配置文件与环境变量
type Options struct {
	ConfigFile string `short:"c" long:"config" description:"path to a YAML/JSON/TOML configuration file"`
	StationID  string `long:"station-id" description:"override station.id"`
	CSMSURL    string `long:"csms-url" description:"override station.csms_url"`
	LogLevel   string `short:"l" long:"log-level" description:"override log.level"`
	MemoryOnly bool   `long:"memory" description:"use in-memory storage instead of Redis"`
}

// exitRestart 整站重置后退出码，由进程管理器拉起
const exitRestart = 3

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	restart, err := run(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "station controller failed: %v\n", err)
		os.Exit(1)
	}
	if restart {
		os.Exit(exitRestart)
	}
}

func run(opts Options) (bool, error) {
	// 1. 加载配置
	if err := config.Init(opts.ConfigFile); err != nil {
		return false, err
	}
	applyOverrides(opts)
	cfg, err := config.Load()
	if err != nil {
		return false, fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. 初始化日志
	log, err := logger.New(&logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		Async:     cfg.Log.Async,
		StationID: cfg.Station.ID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Infof("Starting station controller %s (profile %s)", cfg.Station.ID, cfg.Profile)

	// 3. 初始化存储
	store, err := openStorage(cfg, opts.MemoryOnly)
	if err != nil {
		return false, err
	}
	defer store.Close()

	// 4. 设备模型与证书
	deviceModel, err := devicemodel.New(store, log)
	if err != nil {
		return false, err
	}
	if err := deviceModel.Apply(cfg.DeviceModel); err != nil {
		return false, fmt.Errorf("failed to apply device model settings: %w", err)
	}
	credentials, err := security.NewStore(cfg.Security, log)
	if err != nil {
		return false, err
	}

	// 5. 事件导出
	publisher, err := openPublisher(cfg, log)
	if err != nil {
		return false, err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	// 6. 到CSMS的WebSocket客户端
	wsManager, err := newTransport(cfg, credentials, log)
	if err != nil {
		return false, err
	}

	// 7. 会话控制器
	restart := make(chan struct{}, 1)
	bridge := newHardwareBridge(cfg.Station.ID, publisher, restart, log)
	controller, err := chargepoint.NewManager(controllerConfig(cfg), chargepoint.Dependencies{
		Transport:     wsManager,
		Store:         store,
		DeviceModel:   deviceModel,
		Credentials:   credentials,
		SmartCharging: smartcharging.NewProfileStore(evseIDs(cfg)),
		Publisher:     publisherOrNil(publisher),
	}, chargepoint.Callbacks{
		RemoteStartTransaction:      bridge.RemoteStartTransaction,
		StopTransaction:             bridge.StopTransaction,
		Reset:                       bridge.Reset,
		PauseCharging:               bridge.PauseCharging,
		OnStationCertificateChanged: wsManager.Reconnect,
	}, log)
	if err != nil {
		return false, err
	}
	if err := controller.Start(); err != nil {
		return false, err
	}
	if err := wsManager.Start(controller); err != nil {
		return false, err
	}

	// 8. 硬件指令消费
	var consumer *message.KafkaConsumer
	if cfg.Events.HardwareInput {
		consumer, err = message.NewKafkaConsumer(cfg.Kafka, cfg.Station.ID, log)
		if err != nil {
			return false, err
		}
		if err := consumer.Start(controller); err != nil {
			return false, err
		}
		log.Infof("Consuming hardware commands from %s", cfg.Kafka.CommandTopic)
	}

	// 9. 状态接口
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.GetAPIAddr(), controller, wsManager.Link(), log)
		apiServer.Start()
	}

	log.Info("Station controller started")

	// 10. 监听并处理优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	restarting := false
	select {
	case sig := <-quit:
		log.Infof("Received %s, shutting down", sig)
	case <-restart:
		log.Warn("Station reset requested, shutting down for restart")
		restarting = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Shutdown(ctx); err != nil {
			log.Errorf("Error shutting down status API: %v", err)
		}
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Errorf("Error closing Kafka consumer: %v", err)
		}
	}
	if err := controller.Stop(); err != nil {
		log.Errorf("Error stopping session controller: %v", err)
	}
	if err := wsManager.Stop(); err != nil {
		log.Errorf("Error closing WebSocket client: %v", err)
	}

	log.Info("Station controller stopped")
	return restarting, nil
}

// applyOverrides 将命令行参数写入viper
func applyOverrides(opts Options) {
	if opts.StationID != "" {
		viper.Set("station.id", opts.StationID)
	}
	if opts.CSMSURL != "" {
		viper.Set("station.csms_url", opts.CSMSURL)
	}
	if opts.LogLevel != "" {
		viper.Set("log.level", opts.LogLevel)
	}
}

func openStorage(cfg *config.Config, memoryOnly bool) (storage.Store, error) {
	if memoryOnly {
		return storage.NewMemoryStorage(), nil
	}
	store, err := storage.NewRedisStorage(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func openPublisher(cfg *config.Config, log *logger.Logger) (message.EventPublisher, error) {
	switch cfg.Events.Sink {
	case "kafka":
		return message.NewKafkaProducer(cfg.Kafka, log)
	case "nats":
		return message.NewNATSPublisher(cfg.NATS, cfg.Station.ID, log)
	default:
		return nil, nil
	}
}

// publisherOrNil 避免把值为nil的接口传给控制器
func publisherOrNil(publisher message.EventPublisher) chargepoint.EventPublisher {
	if publisher == nil {
		return nil
	}
	return publisher
}

func newTransport(cfg *config.Config, credentials *security.Store, log *logger.Logger) (*websocket.Manager, error) {
	wsConfig := websocket.DefaultConfig()
	wsConfig.URL = cfg.GetCSMSEndpoint()
	wsConfig.StationID = cfg.Station.ID
	wsConfig.SecurityProfile = cfg.Station.SecurityProfile
	wsConfig.Password = cfg.Station.BasicAuthPassword
	wsConfig.PingInterval = cfg.OCPP.PingInterval
	wsConfig.MaxMessageSize = int64(cfg.OCPP.MaxMessageSize)
	wsConfig.ReconnectMinBackoff = cfg.OCPP.ReconnectMinBackoff
	wsConfig.ReconnectMaxBackoff = cfg.OCPP.ReconnectMaxBackoff

	if cfg.Station.SecurityProfile < 2 {
		return websocket.NewManager(wsConfig, nil, log)
	}
	tlsConfig, err := credentials.TLSConfig(cfg.Station.SecurityProfile)
	if err != nil {
		return nil, err
	}
	return websocket.NewManager(wsConfig, tlsConfig, log)
}

func evseIDs(cfg *config.Config) []int {
	ids := make([]int, 0, len(cfg.Station.EVSEs))
	for _, evse := range cfg.Station.EVSEs {
		ids = append(ids, evse.ID)
	}
	return ids
}

func controllerConfig(cfg *config.Config) *chargepoint.ManagerConfig {
	cpConfig := chargepoint.DefaultManagerConfig()
	cpConfig.StationID = cfg.Station.ID
	cpConfig.Topology = cfg.ConnectorsPerEVSE()
	cpConfig.ChargingStation.VendorName = cfg.Station.VendorName
	cpConfig.ChargingStation.Model = cfg.Station.Model
	if cfg.Station.SerialNumber != "" {
		serial := cfg.Station.SerialNumber
		cpConfig.ChargingStation.SerialNumber = &serial
	}
	if cfg.Station.FirmwareVersion != "" {
		firmware := cfg.Station.FirmwareVersion
		cpConfig.ChargingStation.FirmwareVersion = &firmware
	}
	if cfg.OCPP.MaxMessageSize > 0 {
		cpConfig.MaxMessageSize = cfg.OCPP.MaxMessageSize
	}

	queue := protocol.DefaultQueueConfig()
	if cfg.OCPP.MessageTimeout > 0 {
		queue.MessageTimeout = cfg.OCPP.MessageTimeout
	}
	if cfg.OCPP.TransactionMessageAttempts > 0 {
		queue.TransactionMessageAttempts = cfg.OCPP.TransactionMessageAttempts
	}
	if cfg.OCPP.TransactionMessageRetryInterval > 0 {
		queue.TransactionMessageRetryInterval = cfg.OCPP.TransactionMessageRetryInterval
	}
	if cfg.OCPP.QueuesTotalSizeThreshold > 0 {
		queue.QueuesTotalSizeThreshold = cfg.OCPP.QueuesTotalSizeThreshold
	}
	queue.QueueAllMessages = cfg.OCPP.QueueAllMessages
	queue.DiscardForQueueing = cfg.OCPP.DiscardForQueueing
	cpConfig.Queue = queue

	reg := registration.DefaultManagerConfig()
	reg.ChargingStation = cpConfig.ChargingStation
	if cfg.OCPP.BootRetryInterval > 0 {
		reg.DefaultRetryInterval = cfg.OCPP.BootRetryInterval
	}
	cpConfig.Registration = reg
	return cpConfig
}
