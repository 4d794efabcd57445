// Package config handles runtime configuration for the vproc runtime: fd
// table/task table sizing, PTY limits, and the path-virtualization
// environment overrides. Persisted settings live in <configdir>/vproc.yml,
// following the same xdg + yaml round trip lazydocker's own user config
// uses.
//
// adapted from lazydocker's pkg/config/app_config.go
package config

import (
	"os"
	"path/filepath"

	"github.com/OpenPeeDeeP/xdg"
	yaml "github.com/jesseduffield/yaml"
)

// RuntimeConfig holds the user/operator configurable knobs for the runtime.
// Fields are PascalCase in Go but camelCase in vproc.yml.
type RuntimeConfig struct {
	// FdTableInitialCapacity is the number of VProcFdEntry slots a freshly
	// created VProc's fd table starts with (stdin/stdout/stderr always
	// occupy 0/1/2).
	FdTableInitialCapacity int `yaml:"fdTableInitialCapacity,omitempty"`

	// TaskTableInitialCapacity is the starting capacity of the process-wide
	// task table.
	TaskTableInitialCapacity int `yaml:"taskTableInitialCapacity,omitempty"`

	// MaxPtys bounds pty_num allocation, mirroring the original's MAX_PTYS.
	MaxPtys int `yaml:"maxPtys,omitempty"`

	// SessionInputBufferSize is the configured size for the cooperative
	// reader's shared byte queue. pkg/sessioninput does not read it: the
	// queue there is not bounded.
	SessionInputBufferSize int `yaml:"sessionInputBufferSize,omitempty"`

	// PidHintFloor is the low-thousands starting value the synthetic pid
	// allocator is seeded with.
	PidHintFloor int32 `yaml:"pidHintFloor,omitempty"`
}

// GetDefaultRuntimeConfig returns the baked-in defaults, before any env or
// file overrides are applied.
func GetDefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		FdTableInitialCapacity:   16,
		TaskTableInitialCapacity: 32,
		MaxPtys:                 256,
		SessionInputBufferSize:  4096,
		PidHintFloor:            2000,
	}
}

// AppConfig is the top-level config object, analogous to lazydocker's
// AppConfig: identity fields plus the loaded RuntimeConfig and derived
// directories.
type AppConfig struct {
	Debug       bool
	Version     string
	Commit      string
	BuildDate   string
	Name        string
	BuildSource string

	RuntimeConfig *RuntimeConfig
	ConfigDir     string

	// PathTruncate is the raw PATH_TRUNCATE environment value observed at
	// startup, before normalization by pkg/pathvirt.
	PathTruncate string
	// ContainerRoot is PSCALI_CONTAINER_ROOT, honored outside an active
	// vproc.
	ContainerRoot string
	// SysFilesRoot is PSCALI_SYSFILES_ROOT, the base for translated
	// /etc/ssh lookups.
	SysFilesRoot string
}

// NewAppConfig builds an AppConfig, loading/creating the on-disk runtime
// config and applying environment overrides on top of it.
func NewAppConfig(name, version, commit, date, buildSource string, debug bool) (*AppConfig, error) {
	configDir, err := findOrCreateConfigDir(name)
	if err != nil {
		return nil, err
	}

	runtimeConfig, err := loadRuntimeConfigWithDefaults(configDir)
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		Name:          name,
		Version:       version,
		Commit:        commit,
		BuildDate:     date,
		BuildSource:   buildSource,
		Debug:         debug || os.Getenv("DEBUG") == "TRUE",
		RuntimeConfig: runtimeConfig,
		ConfigDir:     configDir,
	}
	cfg.ApplyEnvironment()

	return cfg, nil
}

// ApplyEnvironment reads PATH_TRUNCATE/PSCALI_CONTAINER_ROOT/
// PSCALI_SYSFILES_ROOT from the environment and stores them on the
// AppConfig. It never fails: an absent or malformed variable just leaves
// the corresponding field at its zero value, which pkg/pathvirt treats as
// "layer inactive".
func (c *AppConfig) ApplyEnvironment() {
	c.PathTruncate = os.Getenv("PATH_TRUNCATE")
	c.ContainerRoot = os.Getenv("PSCALI_CONTAINER_ROOT")
	c.SysFilesRoot = os.Getenv("PSCALI_SYSFILES_ROOT")
}

func configDirForVendor(vendor string, projectName string) string {
	if envConfigDir := os.Getenv("CONFIG_DIR"); envConfigDir != "" {
		return envConfigDir
	}
	dirs := xdg.New(vendor, projectName)
	return dirs.ConfigHome()
}

func findOrCreateConfigDir(projectName string) (string, error) {
	folder := configDirForVendor("emkey1", projectName)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", err
	}
	return folder, nil
}

func loadRuntimeConfigWithDefaults(configDir string) (*RuntimeConfig, error) {
	base := GetDefaultRuntimeConfig()
	return loadRuntimeConfig(configDir, &base)
}

func loadRuntimeConfig(configDir string, base *RuntimeConfig) (*RuntimeConfig, error) {
	fileName := filepath.Join(configDir, "vproc.yml")

	if _, err := os.Stat(fileName); err != nil {
		if os.IsNotExist(err) {
			file, ferr := os.Create(fileName)
			if ferr != nil {
				return nil, ferr
			}
			file.Close()
		} else {
			return nil, err
		}
	}

	content, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}

	if len(content) > 0 {
		if err := yaml.Unmarshal(content, base); err != nil {
			return nil, err
		}
	}

	if err := base.Validate(); err != nil {
		return nil, err
	}

	return base, nil
}

// ConfigFilename returns the on-disk path of the persisted runtime config.
func (c *AppConfig) ConfigFilename() string {
	return filepath.Join(c.ConfigDir, "vproc.yml")
}

// WriteToRuntimeConfig loads the on-disk config fresh, applies mutate, and
// persists the result — mirroring AppConfig.WriteToUserConfig.
func (c *AppConfig) WriteToRuntimeConfig(mutate func(*RuntimeConfig) error) error {
	cfg, err := loadRuntimeConfig(c.ConfigDir, &RuntimeConfig{})
	if err != nil {
		return err
	}

	if err := mutate(cfg); err != nil {
		return err
	}

	file, err := os.OpenFile(c.ConfigFilename(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return err
	}
	defer file.Close()

	return yaml.NewEncoder(file).Encode(cfg)
}
