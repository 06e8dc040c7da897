// Package config loads EchoPost configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort          string
	DBPath            string
	AppDataPath       string
	AudioOutputPath   string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURI  string
	PubSubTopic       string
	MaintenanceKey    string
	CompletionsAPIURL string
	CompletionsAPIKey string
	CompletionsModel  string
	SpeechEndpoint    string
	SpeechModel       string
	SpeechVoice       string
}

func getEnv(key, defaultValue string, printEnv bool) string {
	logger := log.Default()
	value := os.Getenv(key)
	if printEnv {
		logger.Info("Env", "key", key, "value", value)
	}
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvOrPanic(key string, printEnv bool) string {
	value := getEnv(key, "", printEnv)
	if value == "" {
		panic(fmt.Sprintf("Environment variable %s is not set", key))
	}
	return value
}

func LoadConfig(printEnv bool) (*Config, error) {
	_ = godotenv.Load()

	conf := &Config{
		HTTPPort:          getEnv("HTTP_PORT", "44810", printEnv),
		DBPath:            getEnv("DB_PATH", "./output/sqlite/echopost.db", printEnv),
		AppDataPath:       getEnv("APP_DATA_PATH", "./output", printEnv),
		OAuthClientID:     getEnvOrPanic("OAUTH_CLIENT_ID", printEnv),
		OAuthClientSecret: getEnvOrPanic("OAUTH_CLIENT_SECRET", printEnv),
		OAuthRedirectURI:  getEnv("OAUTH_REDIRECT_URI", "http://127.0.0.1:44810/oauth/callback", printEnv),
		PubSubTopic:       getEnvOrPanic("PUBSUB_TOPIC", printEnv),
		MaintenanceKey:    getEnvOrPanic("MAINTENANCE_KEY", printEnv),
		CompletionsAPIURL: getEnv("COMPLETIONS_API_URL", "https://api.openai.com/v1", printEnv),
		CompletionsAPIKey: getEnv("COMPLETIONS_API_KEY", "", printEnv),
		CompletionsModel:  getEnv("COMPLETIONS_MODEL", "gpt-4.1-mini", printEnv),
		SpeechEndpoint:    getEnv("SPEECH_ENDPOINT", "https://api.openai.com/v1/audio/speech", printEnv),
		SpeechModel:       getEnv("SPEECH_MODEL", "tts-1", printEnv),
		SpeechVoice:       getEnv("SPEECH_VOICE", "alloy", printEnv),
	}

	// Audio files land under AppDataPath unless overridden.
	conf.AudioOutputPath = getEnv("AUDIO_OUTPUT_PATH", filepath.Join(conf.AppDataPath, "audio"), printEnv)

	return conf, nil
}
