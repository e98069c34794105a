package main

import (
	"flag"
	"fmt"
	"time"

	"ringevo/internal/config"
)

func loadRunConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// overrideFromFlags applies explicitly set run flags on top of cfg, so a flag
// left at its zero default never masks a value from the config file.
func overrideFromFlags(cfg *config.Config, fs *flag.FlagSet, set map[string]bool) error {
	for name := range set {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		getter, ok := f.Value.(flag.Getter)
		if !ok {
			continue
		}
		v := getter.Get()
		switch name {
		case "num-slots":
			cfg.Ring.NumSlots = v.(int)
		case "init-popsize":
			cfg.Ring.InitPopSize = v.(int)
		case "pmem-dist":
			cfg.Ring.PmemDist = v.(int)
		case "direction":
			cfg.Ring.Direction = v.(string)
		case "num-mevs":
			cfg.Evolution.NumMevs = v.(int)
		case "t-size":
			cfg.Evolution.TournamentSize = v.(int)
		case "num-muts":
			cfg.Evolution.NumMuts = v.(int)
		case "num-swaps":
			cfg.Evolution.NumSwaps = v.(int)
		case "count-discarded":
			cfg.Evolution.CountDiscarded = v.(bool)
		case "evaluation-timeout":
			cfg.Evolution.EvaluationTimeout = v.(time.Duration)
		case "islands":
			cfg.Evolution.Islands = v.(int)
		case "seed":
			cfg.Evolution.Seed = v.(int64)
		case "num-geoms":
			cfg.Genome.NumGeoms = v.(int)
		case "num-diheds":
			cfg.Genome.NumDiheds = v.(int)
		case "coef-energy":
			cfg.Fitness.CoefEnergy = v.(float64)
		case "coef-rmsd":
			cfg.Fitness.CoefRMSD = v.(float64)
		}
	}
	return cfg.Validate()
}
