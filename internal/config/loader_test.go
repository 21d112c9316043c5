package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fortuna/rapm/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should carry the provider pacing defaults", func() {
			convey.So(cfg.Fetch.PoliteDelay, convey.ShouldEqual, time.Second)
			convey.So(cfg.Fetch.InitialBackoff, convey.ShouldEqual, time.Second)
			convey.So(cfg.Fetch.BackoffFactor, convey.ShouldEqual, 3.0)
			convey.So(cfg.Fetch.MaxAttempts, convey.ShouldEqual, 10)
			convey.So(cfg.Stream.Name, convey.ShouldEqual, "rapm.games")
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load("")

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8085")
				convey.So(cfg.Fetch.MaxAttempts, convey.ShouldEqual, 10)
				convey.So(cfg.Database.Migrate, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with nested environment variables", func() {
			_ = os.Setenv("RAPM_ADDR", ":9000")
			_ = os.Setenv("RAPM_FETCH__MAX_ATTEMPTS", "4")
			_ = os.Setenv("RAPM_FETCH__POLITE_DELAY", "250ms")
			_ = os.Setenv("RAPM_RUN__FAIL_ON_ANOMALY", "true")
			defer clearConfigEnvVars()

			cfg, err := config.Load("")

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9000")
				convey.So(cfg.Fetch.MaxAttempts, convey.ShouldEqual, 4)
				convey.So(cfg.Fetch.PoliteDelay, convey.ShouldEqual, 250*time.Millisecond)
				convey.So(cfg.Fetch.InitialBackoff, convey.ShouldEqual, time.Second)
				convey.So(cfg.Run.FailOnAnomaly, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with YAML file and env", func() {
			tmpFile := createTempConfigFile(t, `
log_level: debug
provider:
  base_url: http://pbp.internal/v2
fetch:
  backoff_factor: 2
  max_attempts: 5
cache:
  dir: /var/cache/rapm
`)
			_ = os.Setenv("RAPM_CONFIG", tmpFile)
			_ = os.Setenv("RAPM_FETCH__MAX_ATTEMPTS", "7")
			defer clearConfigEnvVars()

			cfg, err := config.Load("")

			convey.Convey("Then env should override the file and the file the defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
				convey.So(cfg.Provider.BaseURL, convey.ShouldEqual, "http://pbp.internal/v2")
				convey.So(cfg.Fetch.BackoffFactor, convey.ShouldEqual, 2.0)
				convey.So(cfg.Fetch.MaxAttempts, convey.ShouldEqual, 7)
				convey.So(cfg.Fetch.PoliteDelay, convey.ShouldEqual, time.Second)
				convey.So(cfg.Cache.Dir, convey.ShouldEqual, "/var/cache/rapm")
			})
		})

		convey.Convey("When an explicit path is given", func() {
			tmpFile := createTempConfigFile(t, "addr: \":7000\"\n")

			cfg, err := config.Load(tmpFile)

			convey.Convey("Then it should be used without RAPM_CONFIG", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7000")
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			cfg, err := config.Load("/non/existent/file.yaml")

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When max attempts is zero", func() {
			_ = os.Setenv("RAPM_FETCH__MAX_ATTEMPTS", "0")
			defer clearConfigEnvVars()

			cfg, err := config.Load("")

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "max_attempts")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func createTempConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "rapm.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, config.EnvPrefix) {
			_ = os.Unsetenv(strings.SplitN(kv, "=", 2)[0])
		}
	}
}
