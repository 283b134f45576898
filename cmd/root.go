package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cachecore",
	Short: "Cachecore - Layered caching daemon with adaptive TTL learning",
	Long: `Cachecore is a layered caching service: an in-process LRU tier
backed by an optional Redis tier, with transparent compression for
large values and TTL recommendations learned from access patterns.

Features:
  - L1 (memory) / L2 (Redis) lookup with promotion on L2 hits
  - Deflate compression for large values
  - Memory-bounded store with size-aware eviction
  - Learned TTL predictions from observed access frequency

Environment Variables:
  REDIS_ADDR        Redis address for the distributed tier
  REDIS_PASSWORD    Redis password`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cachecore.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	// Bind to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".cachecore")
	}

	// Read environment variables
	viper.SetEnvPrefix("CACHECORE")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
