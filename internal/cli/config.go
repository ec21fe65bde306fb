package cli

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/easel/internal/paths"
	"github.com/mesh-intelligence/easel/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "EASEL"

	cfgKeyBackend        = "backend"
	cfgKeyDataDir        = "data_dir"
	cfgKeyDSN            = "dsn"
	cfgKeyRedisURL       = "redis_url"
	cfgKeyMaxRetries     = "max_retries"
	cfgKeyRetryBaseDelay = "retry_base_delay"
	cfgKeySyncMode       = "sync_mode"
	cfgKeyLogLevel       = "log_level"
	cfgKeyUser           = "user"
	cfgKeyAddr           = "addr"
	cfgKeyAllowedOrigins = "allowed_origins"

	defaultAddr = ":8080"
)

// configFile is the shape written to a fresh config.yaml.
type configFile struct {
	Backend        string `yaml:"backend"`
	DataDir        string `yaml:"data_dir,omitempty"`
	SyncMode       string `yaml:"sync_mode"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryBaseDelay string `yaml:"retry_base_delay"`
	LogLevel       string `yaml:"log_level"`
	Addr           string `yaml:"addr"`
}

func defaultConfigFile() configFile {
	return configFile{
		Backend:        types.BackendSQLite,
		SyncMode:       types.SyncModeTransactional,
		MaxRetries:     types.DefaultRetryCount,
		RetryBaseDelay: types.DefaultRetryBaseDelay.String(),
		LogLevel:       "warn",
		Addr:           defaultAddr,
	}
}

// loadConfig reads config.yaml from configDir, writing a default one on
// first run. Values are overridden by EASEL_* environment variables and
// then by flags bound in setup.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create config dir")
	}
	if err := writeConfigIfMissing(paths.ConfigFile(configDir), defaultConfigFile()); err != nil {
		return nil, errors.Wrap(err, "write default config")
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyMaxRetries, types.DefaultRetryCount)
	v.SetDefault(cfgKeyRetryBaseDelay, types.DefaultRetryBaseDelay)
	v.SetDefault(cfgKeyAddr, defaultAddr)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}
	return v, nil
}

// writeConfigIfMissing creates path with cfg unless it already exists.
func writeConfigIfMissing(path string, cfg configFile) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "stat config file")
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return os.WriteFile(path, append([]byte("# easel configuration\n"), data...), 0o644)
}

// storeConfig builds the store Config from the merged configuration.
func (a *app) storeConfig() (types.Config, error) {
	dataDir, err := paths.ResolveDataDir("", a.v.GetString(cfgKeyDataDir))
	if err != nil {
		return types.Config{}, errors.Wrap(err, "resolve data dir")
	}
	cfg := types.Config{
		Backend:        a.v.GetString(cfgKeyBackend),
		DataDir:        dataDir,
		DSN:            a.v.GetString(cfgKeyDSN),
		RedisURL:       a.v.GetString(cfgKeyRedisURL),
		MaxRetries:     a.v.GetInt(cfgKeyMaxRetries),
		RetryBaseDelay: a.v.GetDuration(cfgKeyRetryBaseDelay),
		SyncMode:       a.v.GetString(cfgKeySyncMode),
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, userError{errors.Wrap(err, "invalid configuration")}
	}
	return cfg, nil
}

