package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/addrbook/internal/paths"
	"github.com/mesh-intelligence/addrbook/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "ADDRBOOK"

	cfgKeyVDir            = "vdir"
	cfgKeyDataDir         = "data_dir"
	cfgKeyDisplayLanguage = "display_language"
	cfgKeyPhoneRegion     = "phone_region"
	cfgKeyLabelPolicy     = "merge.label_policy"
	cfgKeySyncConflict    = "sync.conflict"
	cfgKeySyncMirror      = "sync.mirror"
	cfgKeyLogLevel        = "log.level"
	cfgKeyLogFormat       = "log.format"

	defaultLogLevel  = "warn"
	defaultLogFormat = "text"
)

// configFile is the structure written to config.yaml by init.
type configFile struct {
	types.Config `yaml:",inline"`
	Log          logConfig `yaml:"log"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// loadConfig reads config.yaml from configDir using Viper. A missing file
// is not an error; defaults and ADDRBOOK_* variables still apply.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyDisplayLanguage, types.DefaultDisplayLanguage)
	v.SetDefault(cfgKeyPhoneRegion, types.DefaultPhoneRegion)
	v.SetDefault(cfgKeyLabelPolicy, types.LabelRepeat)
	v.SetDefault(cfgKeySyncConflict, types.ConflictOurs)
	v.SetDefault(cfgKeyLogLevel, defaultLogLevel)
	v.SetDefault(cfgKeyLogFormat, defaultLogFormat)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, userError{fmt.Errorf("read config: %w", err)}
	}
	return v, nil
}

// writeConfigIfMissing creates config.yaml with cfg and the default log
// settings if the file does not exist. It reports whether it wrote one.
func writeConfigIfMissing(configDir string, cfg types.Config) (bool, error) {
	path := filepath.Join(configDir, paths.ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config file: %w", err)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(&configFile{
		Config: cfg,
		Log:    logConfig{Level: defaultLogLevel, Format: defaultLogFormat},
	})
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	return true, os.WriteFile(path, data, 0o644)
}

// newLogger builds the slog logger from log.level and log.format. A
// non-empty levelFlag overrides log.level.
func newLogger(v *viper.Viper, levelFlag string, w io.Writer) (*slog.Logger, error) {
	level := v.GetString(cfgKeyLogLevel)
	if levelFlag != "" {
		level = levelFlag
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, userError{fmt.Errorf("log level %q: %w", level, err)}
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format := v.GetString(cfgKeyLogFormat); format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, userError{fmt.Errorf("unknown log format %q", format)}
	}
}
