package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sartorproj/simplik/limits"
	"github.com/sartorproj/simplik/model"
)

// FileConfig is the YAML input of the command: solver settings and the
// regions to evaluate.
type FileConfig struct {
	CL          float64         `yaml:"cl"`
	Marginalize bool            `yaml:"marginalize"`
	Expected    limits.Expected `yaml:"expected"`
	Toys        int             `yaml:"toys"`
	Seed        uint64          `yaml:"seed"`
	Workers     int             `yaml:"workers"`
	Timeout     time.Duration   `yaml:"timeout"`
	DeltasRel   float64         `yaml:"deltas_rel"` // default for regions that set none
	Combine     bool            `yaml:"combine"`    // evaluate all regions as one block-diagonal model
	Regions     []model.Data    `yaml:"regions"`
}

// loadConfig reads a FileConfig from path.
func loadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// solverConfig maps the file settings onto a limits.Config.
func (c *FileConfig) solverConfig() limits.Config {
	cfg := limits.DefaultConfig()
	if c.CL > 0 {
		cfg.CL = c.CL
	}
	cfg.Marginalize = c.Marginalize
	if c.Toys > 0 {
		cfg.Likelihood.Toys = c.Toys
	}
	if c.Seed > 0 {
		cfg.Likelihood.Seed = c.Seed
	}
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	cfg.Timeout = c.Timeout
	return cfg
}

// models builds the models of all regions, or a single joint one when
// Combine is set.
func (c *FileConfig) models() ([]*model.Model, error) {
	if len(c.Regions) == 0 {
		return nil, fmt.Errorf("no regions configured")
	}

	regions := make([]model.Data, len(c.Regions))
	copy(regions, c.Regions)
	for i := range regions {
		if regions[i].DeltasRel == 0 {
			regions[i].DeltasRel = c.DeltasRel
		}
		if regions[i].Name == "" {
			regions[i].Name = fmt.Sprintf("SR%d", i+1)
		}
	}

	if c.Combine {
		joint, err := model.Combine("combined", regions)
		if err != nil {
			return nil, err
		}
		regions = []model.Data{joint}
	}

	out := make([]*model.Model, 0, len(regions))
	for _, d := range regions {
		m, err := model.New(d)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", d.Name, err)
		}
		out = append(out, m)
	}
	return out, nil
}
