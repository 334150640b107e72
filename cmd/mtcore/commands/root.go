package commands

import (
	"fmt"

	"github.com/opd-ai/mtcore/config"
	"github.com/opd-ai/mtcore/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgPath     string
	sessionPath string
	logLevel    string
	cfg         config.Config
)

// Execute runs the command line.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mtcore",
		Short:        "MTProto session store and transport tool",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Default()
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if sessionPath != "" {
				cfg.Session.Path = sessionPath
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return configureLogging(cfg.Log)
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "TOML configuration file")
	root.PersistentFlags().StringVarP(&sessionPath, "session", "s", "", "session store path (overrides config)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(sessionCmd(), peersCmd(), probeCmd())
	return root
}

func configureLogging(lc config.LogConfig) error {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if lc.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// openStore opens the configured session store.
func openStore() (*storage.SQLiteStorage, error) {
	opts := &storage.Options{Passphrase: cfg.Passphrase()}
	if cfg.Session.Path == ":memory:" {
		return storage.OpenMemory(opts)
	}
	store, err := storage.Open(cfg.Session.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", cfg.Session.Path, err)
	}
	return store, nil
}
