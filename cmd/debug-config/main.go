package main

import (
	"fmt"
	"os"

	"github.com/charging-platform/charging-station-controller/internal/config"
)

// 配置调试工具
// 打印默认值、环境变量与配置文件合并后的最终配置
func main() {
	fmt.Println("=== Station Controller Configuration Check ===")

	fmt.Println("\n--- Environment Variables ---")
	envVars := []string{
		"STATION_PROFILE",
		"STATION_STATION_ID",
		"STATION_STATION_CSMS_URL",
		"STATION_REDIS_ADDR",
		"STATION_EVENTS_SINK",
		"STATION_LOG_LEVEL",
	}
	for _, env := range envVars {
		value := os.Getenv(env)
		if value != "" {
			fmt.Printf("%s = %s\n", env, value)
		} else {
			fmt.Printf("%s = (not set)\n", env)
		}
	}

	configFile := ""
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}

	fmt.Println("\n--- Loading Configuration ---")
	if err := config.Init(configFile); err != nil {
		fmt.Printf("Error reading configuration: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n--- Final Configuration ---")
	fmt.Printf("Profile: %s\n", cfg.Profile)
	fmt.Printf("Station ID: %s\n", cfg.Station.ID)
	fmt.Printf("CSMS Endpoint: %s\n", cfg.GetCSMSEndpoint())
	fmt.Printf("Security Profile: %d\n", cfg.Station.SecurityProfile)
	fmt.Printf("EVSE Topology: %v\n", cfg.ConnectorsPerEVSE())
	fmt.Printf("Redis Address: %s\n", cfg.Redis.Addr)
	fmt.Printf("Event Sink: %s\n", cfg.Events.Sink)
	fmt.Printf("Kafka Brokers: %v\n", cfg.Kafka.Brokers)
	fmt.Printf("NATS URL: %s\n", cfg.NATS.URL)
	fmt.Printf("Hardware Input: %v\n", cfg.Events.HardwareInput)
	fmt.Printf("Status API: %v (%s)\n", cfg.API.Enabled, cfg.GetAPIAddr())
	fmt.Printf("Message Timeout: %s\n", cfg.OCPP.MessageTimeout)
	fmt.Printf("Log Level: %s\n", cfg.Log.Level)

	fmt.Println("\n--- Environment Check ---")
	fmt.Printf("Is Development: %v\n", cfg.IsDevelopment())
	fmt.Printf("Is Production: %v\n", cfg.IsProduction())

	fmt.Println("\n=== Configuration Check Complete ===")
}
