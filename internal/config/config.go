// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
// Package config maps viper settings onto the tuner's configuration.
package config

import (
	"strings"
	"time"

	"github.com/autoraid/tuner/internal/family"
	"github.com/cockroachdb/errors"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TUNER_MONGO_URI.
const EnvPrefix = "TUNER"

// Mongo locates the benchmark collection.
type Mongo struct {
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Log configures the logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FamilyOverride holds per-family settings. Zero values keep the
// registered defaults.
type FamilyOverride struct {
	TestFraction float64 `mapstructure:"test_fraction"`
	UpperBound   int     `mapstructure:"upper_bound"`
	SampleCap    int     `mapstructure:"sample_cap"`
	Seed         int64   `mapstructure:"seed"`
}

// Policy decides what to do with a poorly fitting model.
type Policy struct {
	// MaxMSE refuses the search when the held-out error exceeds it.
	// Zero disables the check.
	MaxMSE float64 `mapstructure:"max_mse"`
}

// Sheets locates the spreadsheet export credentials.
type Sheets struct {
	SpreadsheetID string `mapstructure:"spreadsheet_id"`
	Credentials   string `mapstructure:"credentials"`
	Token         string `mapstructure:"token"`
}

// Config is the full tuner configuration.
type Config struct {
	Mongo     Mongo                     `mapstructure:"mongo"`
	Log       Log                       `mapstructure:"log"`
	Pipelines struct{ Dir string }      `mapstructure:"pipelines"`
	Output    struct{ Dir string }      `mapstructure:"output"`
	Families  map[string]FamilyOverride `mapstructure:"families"`
	Policy    Policy                    `mapstructure:"policy"`
	Sheets    Sheets                    `mapstructure:"sheets"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "AutoRAID")
	v.SetDefault("mongo.collection", "amd_desktop")
	v.SetDefault("mongo.timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("pipelines.dir", "config")
	v.SetDefault("output.dir", "./tuner-data")
	v.SetDefault("policy.max_mse", 0.0)
	v.SetDefault("sheets.credentials", "credentials.json")
	v.SetDefault("sheets.token", "token.json")
	for _, name := range family.Names() {
		f, _ := family.Lookup(name)
		if !f.Tunable() {
			continue
		}
		prefix := "families." + name + "."
		v.SetDefault(prefix+"test_fraction", f.TestFraction)
		v.SetDefault(prefix+"upper_bound", f.UpperBound)
		v.SetDefault(prefix+"sample_cap", f.SampleCap)
		v.SetDefault(prefix+"seed", f.Seed)
	}
}

// Bind makes v read TUNER_ prefixed environment variables.
func Bind(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes v, expands home-relative paths and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	for _, p := range []*string{&c.Pipelines.Dir, &c.Output.Dir, &c.Sheets.Credentials, &c.Sheets.Token} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, errors.Wrapf(err, "expanding %q", *p)
		}
		*p = expanded
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Mongo.URI == "" {
		return errors.New("mongo.uri must be set")
	}
	if c.Mongo.Timeout <= 0 {
		return errors.Newf("mongo.timeout must be positive, got %s", c.Mongo.Timeout)
	}
	if c.Policy.MaxMSE < 0 {
		return errors.Newf("policy.max_mse must not be negative, got %g", c.Policy.MaxMSE)
	}
	for name, o := range c.Families {
		f, err := family.Lookup(name)
		if err != nil {
			return errors.Wrap(err, "families")
		}
		if o.UpperBound != 0 && !f.Tunable() {
			return errors.Newf("families.%s.upper_bound: %s only produces group statistics", name, name)
		}
		if o.TestFraction < 0 || o.TestFraction >= 1 {
			return errors.Newf("families.%s.test_fraction must be in (0, 1), got %g", name, o.TestFraction)
		}
		if o.UpperBound < 0 || o.SampleCap < 0 {
			return errors.Newf("families.%s: bounds must not be negative", name)
		}
	}
	return nil
}

// Family returns the named family with the configured overrides applied.
func (c *Config) Family(name string) (family.Family, error) {
	f, err := family.Lookup(name)
	if err != nil {
		return family.Family{}, err
	}
	o, ok := c.Families[name]
	if !ok {
		return f, nil
	}
	if o.TestFraction != 0 {
		f.TestFraction = o.TestFraction
	}
	if o.UpperBound != 0 {
		f.UpperBound = o.UpperBound
	}
	if o.SampleCap != 0 {
		f.SampleCap = o.SampleCap
	}
	if o.Seed != 0 {
		f.Seed = o.Seed
	}
	return f, nil
}
