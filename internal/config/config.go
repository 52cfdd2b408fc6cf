package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	MQTT     MQTTConfig
	Auth     AuthConfig
	Service  ServiceConfig
}

// DatabaseConfig contains database-related settings.
type DatabaseConfig struct {
	Path string // SQLite database file path
}

// MQTTConfig contains broker connection settings.
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	PublishTimeout time.Duration
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	JWTSecret string // HS256 secret used to validate already-issued tokens
}

// ServiceConfig holds the dispatch business rules.
type ServiceConfig struct {
	LocationToleranceMeters float64       // geofence radius for pickup/delivery confirmation
	LowBatteryThreshold     int           // below this the drone is told to return to base
	OfflineTimeout          time.Duration // heartbeat age after which a drone reads as offline
	ServiceAreaRadiusKm     float64       // maximum origin-to-destination distance accepted
	ReconcileInterval       time.Duration // cadence of the missing-job reconciler
	AverageSpeedKmh         float64       // fallback speed for ETA estimates
}

// Load loads configuration from environment variables with sensible defaults.
// JWT_SECRET is required; use LoadWithDefaults in development.
func Load() (*Config, error) {
	cfg := loadAll()
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is not set; required for production")
	}
	return cfg, nil
}

// LoadWithDefaults is like Load but uses a safe default for JWT_SECRET in
// development. WARNING: Only use in development! Use Load() in production.
func LoadWithDefaults() (*Config, error) {
	cfg := loadAll()
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "dev-secret-change-me"
	}
	return cfg, nil
}

func loadAll() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "dispatch.db"),
		},
		MQTT: MQTTConfig{
			BrokerURL:      getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
			ClientID:       getEnv("MQTT_CLIENT_ID", "drone-dispatch-engine"),
			Username:       getEnv("MQTT_USERNAME", ""),
			Password:       getEnv("MQTT_PASSWORD", ""),
			ConnectTimeout: getEnvSeconds("MQTT_CONNECT_TIMEOUT_SECONDS", 30),
			KeepAlive:      getEnvSeconds("MQTT_KEEP_ALIVE_SECONDS", 60),
			PublishTimeout: getEnvSeconds("MQTT_PUBLISH_TIMEOUT_SECONDS", 5),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Service: ServiceConfig{
			LocationToleranceMeters: getEnvFloat("LOCATION_TOLERANCE_METERS", 50),
			LowBatteryThreshold:     getEnvInt("LOW_BATTERY_THRESHOLD", 20),
			OfflineTimeout:          getEnvSeconds("DRONE_OFFLINE_TIMEOUT_SECONDS", 300),
			ServiceAreaRadiusKm:     getEnvFloat("SERVICE_AREA_RADIUS_KM", 50),
			ReconcileInterval:       getEnvSeconds("RECONCILE_INTERVAL_SECONDS", 30),
			AverageSpeedKmh:         getEnvFloat("AVERAGE_SPEED_KMH", 50),
		},
	}
}

// getEnv retrieves an environment variable with a default fallback.
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

// getEnvInt retrieves an integer environment variable; malformed values fall
// back to the default.
func getEnvInt(key string, defaultVal int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{DB: %s, MQTT: %s as %s, Auth: *** (masked) ***}",
		c.Database.Path, c.MQTT.BrokerURL, c.MQTT.ClientID)
}
