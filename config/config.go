package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port       string `mapstructure:"PORT"`
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`

	// Empty RedisURL keeps the dead letter queue in memory.
	RedisURL string `mapstructure:"REDIS_URL"`

	MaxRetries     int           `mapstructure:"MAX_RETRIES"`
	PollInterval   time.Duration `mapstructure:"POLL_INTERVAL"`
	StageTimeout   time.Duration `mapstructure:"STAGE_TIMEOUT"`
	CompletedShown int           `mapstructure:"COMPLETED_SHOWN"`

	RetryInitialDelay    time.Duration `mapstructure:"RETRY_INITIAL_DELAY"`
	RetryMaxDelay        time.Duration `mapstructure:"RETRY_MAX_DELAY"`
	RetryBackoffMultiple float64       `mapstructure:"RETRY_BACKOFF_MULTIPLE"`

	MaxAudioSize     int64   `mapstructure:"MAX_AUDIO_SIZE"`
	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	// Stage processor command templates. Each is split without a shell;
	// episode fields are substituted for the ${...} placeholders.
	CmdDownload   string `mapstructure:"CMD_DOWNLOAD"`
	CmdDownsample string `mapstructure:"CMD_DOWNSAMPLE"`
	CmdTranscribe string `mapstructure:"CMD_TRANSCRIBE"`
	CmdClean      string `mapstructure:"CMD_CLEAN"`
	CmdSummarize  string `mapstructure:"CMD_SUMMARIZE"`

	WorkDir string
}

// StageCommands maps stage names to their configured command templates.
func (c *Config) StageCommands() map[string]string {
	return map[string]string{
		"download":   c.CmdDownload,
		"downsample": c.CmdDownsample,
		"transcribe": c.CmdTranscribe,
		"clean":      c.CmdClean,
		"summarize":  c.CmdSummarize,
	}
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to time.Duration.
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		// It is a string -> time.Duration. Parse it.
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to int64s for byte sizes.
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("REDIS_URL", "")
	vp.SetDefault("MAX_RETRIES", 3)
	vp.SetDefault("POLL_INTERVAL", "250ms")
	vp.SetDefault("STAGE_TIMEOUT", "15m")
	vp.SetDefault("COMPLETED_SHOWN", 50)
	vp.SetDefault("RETRY_INITIAL_DELAY", "30s")
	vp.SetDefault("RETRY_MAX_DELAY", "30m")
	vp.SetDefault("RETRY_BACKOFF_MULTIPLE", 2.0)
	vp.SetDefault("MAX_AUDIO_SIZE", "500MB")
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("CMD_DOWNLOAD", "podfetch --episode ${EPISODE_ID} --out ${WORK_DIR}")
	vp.SetDefault("CMD_DOWNSAMPLE", "ffmpeg -i ${WORK_DIR}/${EPISODE_SLUG}.mp3 -ar 16000 -ac 1 ${WORK_DIR}/${EPISODE_SLUG}.wav")
	vp.SetDefault("CMD_TRANSCRIBE", "whisper-cli ${WORK_DIR}/${EPISODE_SLUG}.wav --output ${WORK_DIR}/${EPISODE_SLUG}.txt")
	vp.SetDefault("CMD_CLEAN", "podclean ${WORK_DIR}/${EPISODE_SLUG}.txt")
	vp.SetDefault("CMD_SUMMARIZE", "podsum ${WORK_DIR}/${EPISODE_SLUG}.txt")

	// Load from config file
	vp.SetConfigName("podqueued_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/podqueued/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("PODQUEUED")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// Unmarshal the config, providing our custom composed hooks.
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
