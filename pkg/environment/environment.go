package environment

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/litmuschaos/chaos-orchestrator/pkg/log"
)

// Settings carries every tunable of the engine. Precedence, lowest first:
// built-in defaults, the YAML config file, environment variables.
type Settings struct {
	AppNamespace string `yaml:"appNamespace"`
	TemplatesDir string `yaml:"templatesDir"`
	Kubeconfig   string `yaml:"kubeconfig"`
	ListenAddr   string `yaml:"listenAddr"`

	// seconds granularity in the file, matching the experiment parameter keys
	PlatformTimeoutSec int `yaml:"platformTimeout"`
	RetryCount         int `yaml:"retryCount"`
	RetryDelaySec      int `yaml:"retryDelay"`
	PollIntervalSec    int `yaml:"pollInterval"`
	StopTimeoutSec     int `yaml:"stopTimeout"`
	SchedulerTickSec   int `yaml:"schedulerTick"`

	DefaultChaosDuration int `yaml:"defaultChaosDuration"`
	DefaultChaosInterval int `yaml:"defaultChaosInterval"`
}

// Defaults returns the built-in settings, values mirror the framework's
// stock configuration
func Defaults() Settings {
	return Settings{
		AppNamespace:         "hello-world-app",
		TemplatesDir:         "templates",
		ListenAddr:           ":8080",
		PlatformTimeoutSec:   30,
		RetryCount:           3,
		RetryDelaySec:        1,
		PollIntervalSec:      5,
		StopTimeoutSec:       300,
		SchedulerTickSec:     60,
		DefaultChaosDuration: 60,
		DefaultChaosInterval: 10,
	}
}

// Load reads the optional config file and applies environment overrides
func Load(configPath string) (Settings, error) {
	settings := Defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
			log.Warnf("[Config]: Config file not found at %v, using defaults", configPath)
		case err != nil:
			return settings, errors.Wrapf(err, "Unable to read the config file %v, err: %v", configPath, err)
		default:
			if err := yaml.Unmarshal(data, &settings); err != nil {
				return settings, errors.Wrapf(err, "Unable to parse the config file %v, err: %v", configPath, err)
			}
			log.Infof("[Config]: Loaded configuration from %v", configPath)
		}
	}

	settings.AppNamespace = getEnv("APP_NAMESPACE", settings.AppNamespace)
	settings.TemplatesDir = getEnv("TEMPLATES_DIR", settings.TemplatesDir)
	settings.Kubeconfig = getEnv("KUBECONFIG", settings.Kubeconfig)
	settings.ListenAddr = getEnv("LISTEN_ADDR", settings.ListenAddr)
	settings.PlatformTimeoutSec = getEnvInt("PLATFORM_TIMEOUT", settings.PlatformTimeoutSec)
	settings.RetryCount = getEnvInt("RETRY_COUNT", settings.RetryCount)
	settings.RetryDelaySec = getEnvInt("RETRY_DELAY", settings.RetryDelaySec)
	settings.PollIntervalSec = getEnvInt("POLL_INTERVAL", settings.PollIntervalSec)
	settings.StopTimeoutSec = getEnvInt("STOP_TIMEOUT", settings.StopTimeoutSec)
	settings.SchedulerTickSec = getEnvInt("SCHEDULER_TICK", settings.SchedulerTickSec)
	settings.DefaultChaosDuration = getEnvInt("DEFAULT_CHAOS_DURATION", settings.DefaultChaosDuration)
	settings.DefaultChaosInterval = getEnvInt("DEFAULT_CHAOS_INTERVAL", settings.DefaultChaosInterval)

	return settings, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		log.Warnf("[Config]: Ignoring non-numeric %v=%v", key, val)
		return fallback
	}
	return parsed
}

// PlatformTimeout is the bound on a single blocking platform call
func (s Settings) PlatformTimeout() time.Duration {
	return time.Duration(s.PlatformTimeoutSec) * time.Second
}

// RetryDelay is the base wait between platform retries, doubled per attempt
func (s Settings) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySec) * time.Second
}

// PollInterval is the wait between status polls
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSec) * time.Second
}

// StopTimeout bounds how long Stop waits for the platform to wind down
func (s Settings) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutSec) * time.Second
}

// SchedulerTick is the scheduler evaluation period
func (s Settings) SchedulerTick() time.Duration {
	return time.Duration(s.SchedulerTickSec) * time.Second
}
