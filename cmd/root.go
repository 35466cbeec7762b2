// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/autoraid/tuner/internal/config"
	"github.com/autoraid/tuner/internal/logging"
	"github.com/autoraid/tuner/internal/store"
	"github.com/cockroachdb/errors"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

// cfg and logger are set up before any subcommand runs.
var (
	cfg    *config.Config
	logger = zap.NewNop()
)

func makeAllDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// ResultsFile returns the path of fname under the results directory,
// creating the directory if needed.
func ResultsFile(fname string, subdirs ...string) (string, error) {
	pieces := append([]string{cfg.Output.Dir, "results"}, subdirs...)
	p := filepath.Join(pieces...)
	if err := makeAllDirs(p); err != nil {
		return "", errors.Wrapf(err, "creating %s", p)
	}
	return filepath.Join(p, fname), nil
}

// openStore connects to the configured collection.
func openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, store.Options{
		URI:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
		Timeout:    cfg.Mongo.Timeout,
	}, logger)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tuner",
	Short: "Suggests storage benchmark parameters",
	Long: `Aggregates storage benchmark reports kept in MongoDB, fits a random forest
to the measured performance and suggests the ramp time or I/O depth that
maximizes it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() error {
	c, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	l, err := logging.New(c.Log.Level, c.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	if f := viper.ConfigFileUsed(); f != "" {
		logger.Debug("using config file", zap.String("path", f))
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tuner.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "console", "log format: console or json")
	pf.StringP("output-dir", "o", "./tuner-data", "directory to emit results and plots")
	pf.String("pipelines-dir", "config", "directory holding the aggregation pipeline templates")
	pf.String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection string")
	pf.String("mongo-database", "AutoRAID", "database holding the benchmark reports")
	pf.String("mongo-collection", "amd_desktop", "collection holding the benchmark reports")
	pf.Duration("mongo-timeout", 30*time.Second, "timeout for connecting to MongoDB")

	for key, flag := range map[string]string{
		"log.level":        "log-level",
		"log.format":       "log-format",
		"output.dir":       "output-dir",
		"pipelines.dir":    "pipelines-dir",
		"mongo.uri":        "mongo-uri",
		"mongo.database":   "mongo-database",
		"mongo.collection": "mongo-collection",
		"mongo.timeout":    "mongo-timeout",
	} {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".tuner" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".tuner")
	}

	config.Bind(viper.GetViper())

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			fmt.Fprintln(os.Stderr, "reading config:", err)
			os.Exit(1)
		}
	}
}
