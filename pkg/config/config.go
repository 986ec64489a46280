// Package config loads the control plane's process-wide configuration from
// the environment. The struct is built once at startup by Load and is
// immutable thereafter; every component receives it by constructor
// injection rather than reading the environment itself.
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Process identity
	AppName string
	Debug   bool
	Port    string

	// Logging
	LogLevel string
	LogJSON  bool

	// Database
	DatabaseType string
	DatabaseURL  string

	// Auth
	JWTSecret       string
	SharedAccessKey string // gates /download_binary and bootstrap scripts

	// Control-plane identity
	ControlPlanePublicAddr string // advertised address, rate-limit bypass + bootstrap URL
	MasterHostID           string

	// Worker fleet sizing. MAX_SERVERS_IN_MASTER is deliberately its own
	// variable, never aliased to MAX_SERVERS_PER_HOST.
	MaxServersPerHost  int
	MaxServersInMaster int
	BasePort           int

	// Lifecycle timing, in seconds.
	HostInactiveAfter    int // seconds, T_inactive, default 120
	HostStaleAfter       int // seconds, T_stale, default 180
	HostIdleGrace        int // seconds, T_host_idle, default 15 (deliberately aggressive per source)
	ServerIdleGrace      int // seconds, T_server_idle, default 15
	ServerStaleAfter     int // seconds, missed-heartbeat removal threshold, default 120
	SaveStaleAfter       int // seconds, T_save_stale, default 30
	DrainTimeout         int // seconds, T_drain, default 30
	ProvisionWaitCeiling int // seconds, matchmaker provisioning wait ceiling, default 90

	// Cloud Provisioner (Hetzner)
	HetznerAPIToken string
	HetznerImage    string
	HetznerType     string
	HetznerLocation string

	// Binary distribution
	BinariesDir       string
	BinaryVersionFile string

	// InfluxDB (optional event storage)
	InfluxDBURL    string
	InfluxDBToken  string
	InfluxDBOrg    string
	InfluxDBBucket string
}

var AppConfig *Config

// Load loads configuration from the environment, falling back to a local
// .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:  getEnv("APP_NAME", "controlplane"),
		Debug:    getEnvBool("DEBUG", true),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
		LogJSON:  getEnvBool("LOG_JSON", false),

		DatabaseType: getEnv("DATABASE_TYPE", "postgres"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		JWTSecret:       getEnv("JWT_SECRET", "change-me-in-production-please-use-a-random-string"),
		SharedAccessKey: getEnv("SHARED_ACCESS_KEY", "change-me"),

		ControlPlanePublicAddr: getEnv("CONTROL_PLANE_PUBLIC_ADDR", ""),
		MasterHostID:           getEnv("MASTER_HOST_ID", "master"),

		MaxServersPerHost:  getEnvInt("MAX_SERVERS_PER_HOST", 6),
		MaxServersInMaster: getEnvInt("MAX_SERVERS_IN_MASTER", 4),
		BasePort:           getEnvInt("BASE_PORT", 9000),

		HostInactiveAfter:    getEnvInt("HOST_INACTIVE_AFTER", 120),
		HostStaleAfter:       getEnvInt("HOST_STALE_AFTER", 180),
		HostIdleGrace:        getEnvInt("HOST_IDLE_GRACE", 15),
		ServerIdleGrace:      getEnvInt("SERVER_IDLE_GRACE", 15),
		ServerStaleAfter:     getEnvInt("SERVER_STALE_AFTER", 120),
		SaveStaleAfter:       getEnvInt("SAVE_STALE_AFTER", 30),
		DrainTimeout:         getEnvInt("DRAIN_TIMEOUT", 30),
		ProvisionWaitCeiling: getEnvInt("PROVISION_WAIT_CEILING", 90),

		HetznerAPIToken: getEnv("HETZNER_API_TOKEN", ""),
		HetznerImage:    getEnv("HETZNER_VM_IMAGE", "ubuntu-22.04"),
		HetznerType:     getEnv("HETZNER_VM_TYPE", "cx23"),
		HetznerLocation: getEnv("HETZNER_VM_LOCATION", "nbg1"),

		BinariesDir:       getEnv("BINARIES_DIR", "./binaries"),
		BinaryVersionFile: getEnv("BINARY_VERSION_FILE", "./binaries/version.txt"),

		InfluxDBURL:    getEnv("INFLUXDB_URL", ""),
		InfluxDBToken:  getEnv("INFLUXDB_TOKEN", ""),
		InfluxDBOrg:    getEnv("INFLUXDB_ORG", "controlplane"),
		InfluxDBBucket: getEnv("INFLUXDB_BUCKET", "events"),
	}

	AppConfig = cfg
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("Invalid boolean for %s, using default: %v", key, defaultValue)
			return defaultValue
		}
		return boolVal
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intVal, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("Invalid integer for %s, using default: %d", key, defaultValue)
			return defaultValue
		}
		return intVal
	}
	return defaultValue
}
