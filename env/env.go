package env

import (
	"errors"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Env struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	Port        int    `mapstructure:"PORT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	StorageProvider     string `mapstructure:"STORAGE_PROVIDER"`
	LocalStorageDir     string `mapstructure:"LOCAL_STORAGE_DIR"`
	LocalStorageBaseUrl string `mapstructure:"LOCAL_STORAGE_BASE_URL"`

	BucketName     string `mapstructure:"BUCKET_NAME"`
	BucketEndpoint string `mapstructure:"BUCKET_ENDPOINT"`
	BucketAppKey   string `mapstructure:"BUCKET_APP_KEY"`
	BucketKeyId    string `mapstructure:"BUCKET_KEY_ID"`
	BucketRegion   string `mapstructure:"BUCKET_REGION"`

	ScreenDisplay     string `mapstructure:"SCREEN_DISPLAY"`
	ScreenUrl         string `mapstructure:"SCREEN_URL"`
	SystemAudioSource string `mapstructure:"SYSTEM_AUDIO_SOURCE"`
	WebcamDevice      string `mapstructure:"WEBCAM_DEVICE"`
	MicrophoneSource  string `mapstructure:"MICROPHONE_SOURCE"`
	FFmpegPath        string `mapstructure:"FFMPEG_PATH"`

	CompositeMode string `mapstructure:"COMPOSITE_MODE"`
	SpoolDir      string `mapstructure:"SPOOL_DIR"`
}

var keys = []string{
	"ENVIRONMENT", "PORT", "LOG_LEVEL",
	"STORAGE_PROVIDER", "LOCAL_STORAGE_DIR", "LOCAL_STORAGE_BASE_URL",
	"BUCKET_NAME", "BUCKET_ENDPOINT", "BUCKET_APP_KEY", "BUCKET_KEY_ID", "BUCKET_REGION",
	"SCREEN_DISPLAY", "SCREEN_URL", "SYSTEM_AUDIO_SOURCE", "WEBCAM_DEVICE", "MICROPHONE_SOURCE", "FFMPEG_PATH",
	"COMPOSITE_MODE", "SPOOL_DIR",
}

// LoadEnvironmentVariables loads environment variables, a missing .env file is not an error.
func LoadEnvironmentVariables() (*Env, error) {
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("PORT", 3000)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORAGE_PROVIDER", "local")
	viper.SetDefault("LOCAL_STORAGE_DIR", "videos")
	viper.SetDefault("SCREEN_DISPLAY", os.Getenv("DISPLAY"))
	viper.SetDefault("WEBCAM_DEVICE", "/dev/video0")
	viper.SetDefault("MICROPHONE_SOURCE", "default")
	viper.SetDefault("FFMPEG_PATH", "ffmpeg")
	viper.SetDefault("COMPOSITE_MODE", "pip")
	viper.SetDefault("SPOOL_DIR", "recordings")

	for _, key := range keys {
		if err := viper.BindEnv(key); err != nil {
			return nil, err
		}
	}

	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	env := &Env{}

	if err := viper.Unmarshal(env); err != nil {
		return nil, err
	}

	return env, nil
}

// WatchEnvironment reloads the .env file on change and hands the new values to onChange.
func WatchEnvironment(logger *zap.Logger, onChange func(*Env)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		logger.Info("environment file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))

		env := &Env{}

		if err := viper.Unmarshal(env); err != nil {
			logger.Error("failed to reload environment", zap.Error(err))
			return
		}

		onChange(env)
	})

	viper.WatchConfig()
}

// IsDevelopment returns true if the environment is development
func IsDevelopment() bool {
	return viper.GetString("ENVIRONMENT") == "development"
}

// GetStorageProvider returns the configured storage provider, lowercased.
func GetStorageProvider() string {
	return strings.ToLower(viper.GetString("STORAGE_PROVIDER"))
}

// GetBucketName returns the recording bucket
func GetBucketName() string {
	return viper.GetString("BUCKET_NAME")
}

func GetBucketEndpoint() string {
	return viper.GetString("BUCKET_ENDPOINT")
}

func GetBucketAppKey() string {
	return viper.GetString("BUCKET_APP_KEY")
}

func GetBucketKeyId() string {
	return viper.GetString("BUCKET_KEY_ID")
}

func GetBucketRegion() string {
	return viper.GetString("BUCKET_REGION")
}
