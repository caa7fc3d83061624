package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sabianactl",
	Short: "Sabiana climate control CLI",
	Long: `A command line interface for monitoring and controlling Sabiana
cloud-connected climate units through the Sabiana backend.

Credentials are read from flags, the SABIANA_EMAIL and SABIANA_PASSWORD
environment variables, or a config file (default $HOME/.sabianactl.yaml).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".sabianactl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SABIANA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for _, key := range []string{"email", "password", "base-url", "stream-url", "verbose"} {
		if err := viper.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(key)); err != nil {
			return err
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
