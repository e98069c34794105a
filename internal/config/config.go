// Package config loads run parameters from YAML on top of embedded defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ringevo/internal/ring"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Ring      RingConfig      `yaml:"ring"`
	Evolution EvolutionConfig `yaml:"evolution"`
	Genome    GenomeConfig    `yaml:"genome"`
	Fitness   FitnessConfig   `yaml:"fitness"`
	Storage   StorageConfig   `yaml:"storage"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RingConfig shapes the arena.
type RingConfig struct {
	NumSlots    int    `yaml:"num_slots"`
	InitPopSize int    `yaml:"init_popsize"`
	PmemDist    int    `yaml:"pmem_dist"` // locality radius for child placement
	Direction   string `yaml:"direction"` // maximize or minimize
}

type EvolutionConfig struct {
	NumMevs           int           `yaml:"num_mevs"`
	TournamentSize    int           `yaml:"t_size"`
	NumMuts           int           `yaml:"num_muts"`
	NumSwaps          int           `yaml:"num_swaps"`
	CountDiscarded    bool          `yaml:"count_discarded"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"` // per event, 0 disables
	Islands           int           `yaml:"islands"`
	Seed              int64         `yaml:"seed"` // 0 picks a time-based seed
}

// GenomeConfig is the genome shape: num_geoms conformers of num_diheds angles.
type GenomeConfig struct {
	NumGeoms  int     `yaml:"num_geoms"`
	NumDiheds int     `yaml:"num_diheds"`
	AngleMin  float64 `yaml:"angle_min"`
	AngleMax  float64 `yaml:"angle_max"`
}

type FitnessConfig struct {
	CoefEnergy float64 `yaml:"coef_energy"`
	CoefRMSD   float64 `yaml:"coef_rmsd"`
}

type StorageConfig struct {
	Kind   string `yaml:"kind"`
	DBPath string `yaml:"db_path"`
}

type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load reads a YAML file over the embedded defaults. Keys missing from the
// file keep their default values. An empty path yields the defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse overlays YAML data onto cfg.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the parameters can run together.
func (c *Config) Validate() error {
	r, e, g, f := c.Ring, c.Evolution, c.Genome, c.Fitness
	switch {
	case r.NumSlots < 1:
		return invalid("num_slots must be >= 1, got %d", r.NumSlots)
	case r.InitPopSize < 0 || r.InitPopSize > r.NumSlots:
		return invalid("init_popsize must be in [0, num_slots=%d], got %d", r.NumSlots, r.InitPopSize)
	case r.PmemDist < 0 || 2*r.PmemDist > r.NumSlots:
		return invalid("pmem_dist must be in [0, num_slots/2], got %d", r.PmemDist)
	case e.NumMevs < 0:
		return invalid("num_mevs must be >= 0, got %d", e.NumMevs)
	case e.TournamentSize < 2:
		return invalid("t_size must be >= 2, got %d", e.TournamentSize)
	case e.TournamentSize > r.InitPopSize:
		return invalid("t_size %d exceeds init_popsize %d", e.TournamentSize, r.InitPopSize)
	case g.NumGeoms < 1 || g.NumDiheds < 1:
		return invalid("genome shape %dx%d must be positive", g.NumGeoms, g.NumDiheds)
	case e.NumSwaps < 0 || e.NumSwaps > g.NumGeoms:
		return invalid("num_swaps must be in [0, num_geoms=%d], got %d", g.NumGeoms, e.NumSwaps)
	case e.NumMuts < 0 || e.NumMuts > g.NumGeoms*g.NumDiheds:
		return invalid("num_muts must be in [0, %d], got %d", g.NumGeoms*g.NumDiheds, e.NumMuts)
	case g.AngleMax <= g.AngleMin:
		return invalid("angle range [%g, %g) is empty", g.AngleMin, g.AngleMax)
	case f.CoefEnergy < 0 || f.CoefRMSD < 0:
		return invalid("fitness coefficients must be >= 0")
	case e.EvaluationTimeout < 0:
		return invalid("evaluation_timeout must be >= 0")
	case e.Islands < 1:
		return invalid("islands must be >= 1, got %d", e.Islands)
	}
	if _, err := ring.ParseDirection(r.Direction); err != nil {
		return err
	}
	return nil
}

// Order returns the fitness ordering named by ring.direction.
func (c *Config) Order() (ring.Order, error) {
	dir, err := ring.ParseDirection(c.Ring.Direction)
	if err != nil {
		return ring.Order{}, err
	}
	return ring.Order{Direction: dir}, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ring.ErrConfiguration}, args...)...)
}
