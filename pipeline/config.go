package pipeline

import (
	"flag"

	"github.com/pkg/errors"

	"bytepipe/vectorized"
)

// Config configures a pipeline run. Page size and compression belong to the
// arena.Supplier handed to NewDriver.
type Config struct {
	ChunkSize int `yaml:"chunk_size"`
}

// RegisterFlags registers the pipeline flags.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&cfg.ChunkSize, "pipeline.chunk-size", vectorized.DefaultChunkSize, "Rows per chunk read from a dataset page.")
}

// Validate checks the configuration.
func (cfg *Config) Validate() error {
	if cfg.ChunkSize <= 0 {
		return errors.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	return nil
}
