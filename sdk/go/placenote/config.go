package placenote

import "github.com/placenote/placenote/internal/core/engine"

// Config carries the credential and storage locations passed to Initialize.
type Config struct {
	APIKey      string `yaml:"api_key"`
	AppBasePath string `yaml:"app_base_path"`
	MapPath     string `yaml:"map_path"`
}

func DefaultConfig() Config {
	return Config{
		AppBasePath: ".",
		MapPath:     "maps",
	}
}

// Params converts the config into engine initialization parameters.
func (c Config) Params() engine.InitParams {
	return engine.InitParams{
		APIKey:      c.APIKey,
		AppBasePath: c.AppBasePath,
		MapPath:     c.MapPath,
	}
}
