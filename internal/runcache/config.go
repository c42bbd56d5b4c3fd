package runcache

import (
	"github.com/charmbracelet/log"
	"github.com/deixis/calibrate/internal/config"
)

// FromConfig builds a Cache from a loaded configuration.
func FromConfig(cfg *config.Config, logger *log.Logger) (*Cache, error) {
	return New(Options{
		Executable: cfg.ExecutablePath(),
		Arity:      cfg.Arity(),
		Format:     cfg.Format(),
		RunsDir:    cfg.RunsDir(),
		InputFile:  cfg.InputFile,
		OutputFile: cfg.OutputFile,
		Timeout:    cfg.Timeout(),
		MaxOutput:  cfg.MaxOutputBytes(),
		LRUSize:    cfg.LRUSize(),
		Logger:     logger,
	})
}
