package types

import "errors"

// Config holds the settings a Book needs to attach to a directory.
type Config struct {
	VDir            string      `json:"vdir" yaml:"vdir"`
	DataDir         string      `json:"data_dir" yaml:"data_dir"`
	DisplayLanguage string      `json:"display_language" yaml:"display_language"`
	PhoneRegion     string      `json:"phone_region" yaml:"phone_region"`
	Merge           MergeConfig `json:"merge" yaml:"merge"`
	Sync            SyncConfig  `json:"sync" yaml:"sync"`
}

// MergeConfig selects merge behavior that has more than one acceptable form.
type MergeConfig struct {
	LabelPolicy string `json:"label_policy" yaml:"label_policy"`
}

// SyncConfig holds reconciliation preferences.
type SyncConfig struct {
	Conflict string `json:"conflict" yaml:"conflict"`
}

// Label policies for repeated same-category values after a merge.
const (
	LabelRepeat = "repeat"
	LabelSuffix = "suffix"
)

// Conflict preferences for sync.
const (
	ConflictOurs   = "ours"
	ConflictTheirs = "theirs"
)

// Defaults applied by the CLI when the config file leaves a key unset.
const (
	DefaultDisplayLanguage = "en"
	DefaultPhoneRegion     = "US"
)

// Config validation errors.
var (
	ErrVDirEmpty           = errors.New("vdir must not be empty")
	ErrDataDirEmpty        = errors.New("data_dir must not be empty")
	ErrLabelPolicyUnknown  = errors.New("unknown merge label policy")
	ErrConflictPrefUnknown = errors.New("unknown sync conflict preference")
)

// Validate checks that the Config is well-formed. Empty policy fields mean
// the default.
func (c Config) Validate() error {
	if c.VDir == "" {
		return ErrVDirEmpty
	}
	if c.DataDir == "" {
		return ErrDataDirEmpty
	}
	switch c.Merge.LabelPolicy {
	case "", LabelRepeat, LabelSuffix:
	default:
		return ErrLabelPolicyUnknown
	}
	switch c.Sync.Conflict {
	case "", ConflictOurs, ConflictTheirs:
	default:
		return ErrConflictPrefUnknown
	}
	return nil
}
