// Package config loads server settings from the environment (and an
// optional .env file) through viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        int
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	CORSOrigin  string

	JWTSecret string
	TokenTTL  time.Duration

	AdminUsername string
	AdminPassword string

	// SealKey is the hex encoded identity seal key; empty means ephemeral.
	SealKey          string
	MaxDocumentBytes int64

	RequireSignature bool
	ChallengeTTL     time.Duration
}

const DefaultAdminPassword = "admin123"

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("DATABASE_URL", "chainvote.db")
	v.SetDefault("Logger.Level", "info")
	v.SetDefault("Logger.Format", "text")
	v.SetDefault("CORS.Allowed_Origin", "*")
	v.SetDefault("Auth.JWT_Secret", "")
	v.SetDefault("Auth.Token_TTL", 24*time.Hour)
	v.SetDefault("Admin.Username", "admin")
	v.SetDefault("Admin.Password", DefaultAdminPassword)
	v.SetDefault("Identity.Seal_Key", "")
	v.SetDefault("Identity.Max_Document_Bytes", 5<<20)
	v.SetDefault("Wallet.Require_Signature", true)
	v.SetDefault("Wallet.Challenge_TTL", 5*time.Minute)
}

// Load reads .env files (if any) into the environment and resolves every
// setting. Env keys are the upper-cased setting names with dots replaced
// by underscores, e.g. LOGGER_LEVEL or WALLET_REQUIRE_SIGNATURE.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromViper(New())
}

// New returns a viper instance bound to the environment with defaults set.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:             v.GetInt("PORT"),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		LogLevel:         v.GetString("Logger.Level"),
		LogFormat:        v.GetString("Logger.Format"),
		CORSOrigin:       v.GetString("CORS.Allowed_Origin"),
		JWTSecret:        v.GetString("Auth.JWT_Secret"),
		TokenTTL:         v.GetDuration("Auth.Token_TTL"),
		AdminUsername:    strings.TrimSpace(v.GetString("Admin.Username")),
		AdminPassword:    v.GetString("Admin.Password"),
		SealKey:          strings.TrimSpace(v.GetString("Identity.Seal_Key")),
		MaxDocumentBytes: v.GetInt64("Identity.Max_Document_Bytes"),
		RequireSignature: v.GetBool("Wallet.Require_Signature"),
		ChallengeTTL:     v.GetDuration("Wallet.Challenge_TTL"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is not set")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT %d", cfg.Port)
	}
	if cfg.AdminUsername == "" {
		return Config{}, errors.New("ADMIN_USERNAME is not set")
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, errors.New("AUTH_TOKEN_TTL must be positive")
	}
	if cfg.ChallengeTTL <= 0 {
		return Config{}, errors.New("WALLET_CHALLENGE_TTL must be positive")
	}
	return cfg, nil
}
