// Command cofferd serves the Coffer HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "cofferd",
		Short:         "Coin wallet and content entitlement service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./cofferd.yaml)")
	root.PersistentFlags().String("store-driver", "", "store backend: memory, postgres, sqlite or mongo")
	root.PersistentFlags().String("store-dsn", "", "store connection string or sqlite path")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	_ = v.BindPFlag("store.driver", root.PersistentFlags().Lookup("store-driver"))
	_ = v.BindPFlag("store.dsn", root.PersistentFlags().Lookup("store-dsn"))
	_ = v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	load := func() (*Config, error) { return loadConfig(v, cfgFile) }

	root.AddCommand(newServeCmd(load), newMigrateCmd(load))
	return root
}
