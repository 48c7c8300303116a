package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile  string
	host     string
	port     int
	jsonOut  bool
	verbose  bool
	user     string
	password string

	// Version info (set from main)
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "branchsim",
	Short: "Distributed branch predictor simulation",
	Long: `Branchsim replays branch traces through configurable branch predictors and
reports their prediction accuracy. Simulations run on local cores and on
remote worker nodes started with "branchsim serve".`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&host, "host", "localhost", "status endpoint host of a worker node")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 9060, "status endpoint port of a worker node")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&user, "user", "", "status endpoint auth username")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "status endpoint auth password")
}

// SetVersion sets the version for the CLI
func SetVersion(v string) {
	Version = v
	rootCmd.Version = v
}

// GetServerURL returns the status endpoint URL based on flags
func GetServerURL() string {
	return fmt.Sprintf("http://%s:%d", host, port)
}

func GetConfigFile() string {
	return cfgFile
}

func IsJSON() bool {
	return jsonOut
}

func IsVerbose() bool {
	return verbose
}

func GetAuth() (string, string) {
	return user, password
}
