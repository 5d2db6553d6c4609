package navigator

import "github.com/hazyhaar/pagenav/navigator/internal/config"

// FileConfig is the YAML configuration of a pagenav process.
type FileConfig = config.Config

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*FileConfig, error) { return config.LoadFile(path) }

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *FileConfig { return config.Default() }
