package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DatabaseName      string `mapstructure:"DATABASE_NAME"`
	Env               string `mapstructure:"ENV"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`
	AllowedOrigins    string `mapstructure:"ALLOWED_ORIGINS"`

	// Call room settings.
	RoomBackend         string `mapstructure:"ROOM_BACKEND"`
	RoomCapacity        int    `mapstructure:"ROOM_CAPACITY"`
	JoinLeadMinutes     int    `mapstructure:"JOIN_LEAD_MINUTES"`
	AppointmentTimezone string `mapstructure:"APPOINTMENT_TIMEZONE"`
	SocketEventsPerSec  int    `mapstructure:"SOCKET_EVENTS_PER_SEC"`
	SocketEventBurst    int    `mapstructure:"SOCKET_EVENT_BURST"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisSignalDB int    `mapstructure:"REDIS_SIGNAL_DB"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 100)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173")
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("DATABASE_NAME", "clinic")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("ROOM_BACKEND", "memory")
	viper.SetDefault("ROOM_CAPACITY", 2)
	viper.SetDefault("JOIN_LEAD_MINUTES", 5)
	viper.SetDefault("APPOINTMENT_TIMEZONE", "Local")
	viper.SetDefault("SOCKET_EVENTS_PER_SEC", 20)
	viper.SetDefault("SOCKET_EVENT_BURST", 40)
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_SIGNAL_DB", 3)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if AppConfig.JWTSecret == "" {
		log.Fatalf("Failed to load config: JWT_SECRET is required")
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// Origins splits ALLOWED_ORIGINS into its comma separated entries.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// JoinLead is how long before the scheduled start a call room opens.
func (c Config) JoinLead() time.Duration {
	return time.Duration(c.JoinLeadMinutes) * time.Minute
}

// Location resolves APPOINTMENT_TIMEZONE, falling back to the process zone.
func (c Config) Location() *time.Location {
	if c.AppointmentTimezone == "" || c.AppointmentTimezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.AppointmentTimezone)
	if err != nil {
		log.Printf("Unknown APPOINTMENT_TIMEZONE %q, using local time", c.AppointmentTimezone)
		return time.Local
	}
	return loc
}
