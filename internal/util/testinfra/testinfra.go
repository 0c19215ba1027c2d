package testinfra

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hookdeck/mqbridge/internal/util/testutil"
	"github.com/spf13/viper"
)

// Config points at externally managed brokers. An empty URL means the
// broker is started in a container on first use.
type Config struct {
	TestInfra     bool
	RedisURL      string
	RabbitMQURL   string
	LocalStackURL string
	GCPURL        string
	KafkaURL      string
}

var (
	cfgOnce sync.Once
	cfg     *Config

	// suites counts running callers of Start; containers are torn down
	// when it drops back to zero.
	mu       sync.Mutex
	suites   int
	cleanups []func()
)

// ReadConfig loads TESTINFRA and the TEST_*_URL settings from the
// environment and from .env.test (or $TEST_CONFIG_FILE) in the nearest
// directory up to the module root.
func ReadConfig() *Config {
	cfgOnce.Do(func() {
		v := viper.New()
		v.AutomaticEnv()

		name := os.Getenv("TEST_CONFIG_FILE")
		if name == "" {
			name = ".env.test"
		}
		if path, ok := lookupConfigFile(name); ok {
			v.SetConfigFile(path)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				panic(err)
			}
		}

		cfg = &Config{TestInfra: v.GetBool("TESTINFRA")}
		if cfg.TestInfra {
			cfg.RedisURL = v.GetString("TEST_REDIS_URL")
			cfg.RabbitMQURL = withScheme(v.GetString("TEST_RABBITMQ_URL"), "amqp://guest:guest@")
			cfg.LocalStackURL = withScheme(v.GetString("TEST_LOCALSTACK_URL"), "http://")
			cfg.GCPURL = v.GetString("TEST_GCP_URL")
			cfg.KafkaURL = v.GetString("TEST_KAFKA_URL")
		}
	})
	return cfg
}

func withScheme(url, scheme string) string {
	if url == "" || strings.Contains(url, "://") {
		return url
	}
	return scheme + url
}

// lookupConfigFile walks up from the working directory and stops at the
// directory holding go.mod.
func lookupConfigFile(name string) (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func addCleanup(fn func()) {
	mu.Lock()
	defer mu.Unlock()
	cleanups = append(cleanups, fn)
}

// Start marks the beginning of an integration suite. The returned func
// ends it; the last suite to end terminates every container.
func Start(t *testing.T) func() {
	testutil.Integration(t)

	mu.Lock()
	suites++
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		suites--
		if suites > 0 {
			return
		}
		for _, fn := range cleanups {
			fn()
		}
		cleanups = nil
	}
}
