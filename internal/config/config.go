package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// OAuthApp holds the client registration for one OAuth-based ELD provider.
type OAuthApp struct {
	ClientID      string
	ClientSecret  string
	WebhookSecret string // provider-global fallback when a connection has no secret of its own
}

type Config struct {
	Port        string
	JWTSecret   string
	MongoURI    string
	DBName      string
	RedisURL    string
	SkipAuth    bool
	Environment string
	AppId       string
	VaultKey    string // 32-byte hex key for credential sealing

	KeepTruckin OAuthApp
	Samsara     OAuthApp
	Omnitracs   OAuthApp
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	} else {
		log.Println("Loaded .env file successfully")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:      getEnv("DB_NAME", "go-freight"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SkipAuth:    getEnv("SKIP_AUTH", "false") == "true",
		Environment: getEnv("ENVIRONMENT", "development"),
		AppId:       getEnv("APP_ID", "go-freight"),
		VaultKey:    getEnv("VAULT_KEY", ""),
		KeepTruckin: OAuthApp{
			ClientID:      getEnv("KEEPTRUCKIN_CLIENT_ID", ""),
			ClientSecret:  getEnv("KEEPTRUCKIN_CLIENT_SECRET", ""),
			WebhookSecret: getEnv("KEEPTRUCKIN_WEBHOOK_SECRET", ""),
		},
		Samsara: OAuthApp{
			ClientID:      getEnv("SAMSARA_CLIENT_ID", ""),
			ClientSecret:  getEnv("SAMSARA_CLIENT_SECRET", ""),
			WebhookSecret: getEnv("SAMSARA_WEBHOOK_SECRET", ""),
		},
		Omnitracs: OAuthApp{
			ClientID:      getEnv("OMNITRACS_CLIENT_ID", ""),
			ClientSecret:  getEnv("OMNITRACS_CLIENT_SECRET", ""),
			WebhookSecret: getEnv("OMNITRACS_WEBHOOK_SECRET", ""),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
