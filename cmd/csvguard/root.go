package main

import (
	"github.com/spf13/cobra"

	"github.com/hed1ad/csvguard/pkg/config"
	"github.com/hed1ad/csvguard/pkg/logger"
)

// app holds state shared by the subcommands of one invocation.
type app struct {
	// Global flags
	cfgFile       string
	logLevel      string
	contamination float64
	seed          int64

	// Loaded configuration
	cfg config.Config
	log logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "csvguard",
		Short: "Score CSV rows for anomalies and explain them",
		Long: `csvguard validates an untrusted CSV file, neutralizes spreadsheet formula
injection, cleans it into a numeric feature matrix, scores every row with an
isolation forest and attributes each anomaly to the features that drove it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	f.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	f.Float64Var(&a.contamination, "contamination", 0, "expected anomaly proportion in (0, 0.5] (overrides config)")
	f.Int64Var(&a.seed, "seed", 0, "random seed (overrides config)")

	root.AddCommand(
		newDetectCmd(a),
		newConfigCmd(a),
		newPcap2CSVCmd(a),
	)
	return root
}

// load reads the configuration, applies flag overrides and builds the logger.
func (a *app) load(cmd *cobra.Command) error {
	c, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	if f.Changed("log-level") {
		c.LogLevel = a.logLevel
	}
	if f.Changed("contamination") {
		c.ContaminationRate = a.contamination
	}
	if f.Changed("seed") {
		c.Seed = a.seed
	}
	if err := c.Validate(); err != nil {
		return err
	}
	a.cfg = c

	l, err := logger.New(c.LogLevel, c.LogFormat)
	if err != nil {
		return err
	}
	a.log = l.Named("csvguard")
	return nil
}
