package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmcleod/clubhouse/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "clubhouse",
	Short: "Clubhouse serves a tech club's website and admin dashboard",
	Long: `Clubhouse serves a tech club's public website, member directory and
join applications, plus the admin dashboard for the club's officers.

Settings are read from clubhouse.yaml (in . or /etc/clubhouse), then
CLUBHOUSE_* environment variables, then flags.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory for the bolt database")
	rootCmd.PersistentFlags().String("storage", "", "Storage backend: bolt, memory or postgres")
	rootCmd.PersistentFlags().String("dsn", "", "Postgres connection string")
}

// loadConfig loads the configuration with the flags of cmd bound to their
// keys. Flags that are not registered on cmd are skipped.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	lookup := func(name string) *pflag.Flag { return flags.Lookup(name) }
	return config.Load(configFile, map[string]*pflag.Flag{
		"storage.data_dir": lookup("data-dir"),
		"storage.backend":  lookup("storage"),
		"storage.dsn":      lookup("dsn"),
		"server.port":      lookup("port"),
		"server.host":      lookup("host"),
		"server.tls_cert":  lookup("tls-cert"),
		"server.tls_key":   lookup("tls-key"),
		"server.insecure":  lookup("insecure"),
		"log.level":        lookup("log-level"),
		"log.format":       lookup("log-format"),
	})
}
