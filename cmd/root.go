// Package cmd provides the htmlforge command-line interface.
//
// Configuration is read from, highest priority first:
//  1. command-line flags
//  2. HTMLFORGE_<SECTION>_<OPTION> environment variables
//  3. the file named by --config or HTMLFORGE_CONFIG_FILE
//  4. .htmlforge.yml in the current directory
//  5. built-in defaults
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/htmlforge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "htmlforge",
	Short: "Compile html templates and inject build assets",
	Long: `htmlforge builds entry points, renders an html template with the
resulting script and stylesheet tags injected, and serves the output
with live reload during development.

Quick Start:
  htmlforge build                 Build once and write the output to disk
  htmlforge serve                 Build, watch and serve with live reload
  htmlforge version               Show version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .htmlforge.yml, can also use HTMLFORGE_CONFIG_FILE)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringP("context", "C", ".", "project directory")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("build.context", rootCmd.PersistentFlags().Lookup("context"))
}

// normalizeFlagName accepts --log_level for --log-level.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(config.FileName)
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing file falls back to defaults; a broken one is reported.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
		return
	}
	fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
}
