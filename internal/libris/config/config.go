package config

import (
	"flag"
	"os"
	"time"
)

// Config contains application configuration
type Config struct {
	RunAddress      string
	DatabaseURI     string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	StripeAddress   string
	IyzicoAddress   string
	MailRelayURL    string
	MailFrom        string
	UploadDir       string
	LogLevel        string
	LogFormat       string
	LogFile         string
}

// NewConfig creates a new configuration from environment variables or flags
func NewConfig() *Config {
	var cfg Config

	// Parse flags
	flag.StringVar(&cfg.RunAddress, "a", "", "Server run address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "Database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "JWT signing secret")
	flag.StringVar(&cfg.StripeAddress, "stripe", "", "Stripe gateway relay address")
	flag.StringVar(&cfg.IyzicoAddress, "iyzico", "", "Iyzico gateway relay address")
	flag.StringVar(&cfg.MailRelayURL, "mail", "", "Mail relay address")
	flag.StringVar(&cfg.UploadDir, "uploads", "", "Book cover upload directory")
	flag.StringVar(&cfg.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Log file path (rotated)")
	flag.Parse()

	// Override with env vars if present
	if envAddr := os.Getenv("RUN_ADDRESS"); envAddr != "" {
		cfg.RunAddress = envAddr
	}

	if envDBURI := os.Getenv("DATABASE_URI"); envDBURI != "" {
		cfg.DatabaseURI = envDBURI
	}

	if envSecret := os.Getenv("JWT_SECRET"); envSecret != "" {
		cfg.JWTSecret = envSecret
	}

	if envStripe := os.Getenv("STRIPE_ADDRESS"); envStripe != "" {
		cfg.StripeAddress = envStripe
	}

	if envIyzico := os.Getenv("IYZICO_ADDRESS"); envIyzico != "" {
		cfg.IyzicoAddress = envIyzico
	}

	if envMail := os.Getenv("MAIL_RELAY_URL"); envMail != "" {
		cfg.MailRelayURL = envMail
	}

	if envFrom := os.Getenv("MAIL_FROM"); envFrom != "" {
		cfg.MailFrom = envFrom
	}

	if envUploads := os.Getenv("UPLOAD_DIR"); envUploads != "" {
		cfg.UploadDir = envUploads
	}

	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		cfg.LogLevel = envLevel
	}

	if envFormat := os.Getenv("LOG_FORMAT"); envFormat != "" {
		cfg.LogFormat = envFormat
	}

	if envLogFile := os.Getenv("LOG_FILE"); envLogFile != "" {
		cfg.LogFile = envLogFile
	}

	// Set defaults if needed
	if cfg.RunAddress == "" {
		cfg.RunAddress = ":8080"
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-me"
	}

	if cfg.MailFrom == "" {
		cfg.MailFrom = "library@localhost"
	}

	if cfg.UploadDir == "" {
		cfg.UploadDir = "upload"
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}

	cfg.AccessTokenTTL = 15 * time.Minute
	cfg.RefreshTokenTTL = 30 * 24 * time.Hour

	return &cfg
}
