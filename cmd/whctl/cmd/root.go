// Package cmd is the whctl admin CLI: a direct-to-Postgres operator tool for
// registering sources and destinations, applying migrations, and inspecting
// deliveries. Unlike the ingest/worker services it talks to the database
// itself rather than a running HTTP/RPC surface.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cvieirasp/webhookhub/internal/store"
)

var (
	cfgFile    string
	dsn        string
	timeout    time.Duration
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "whctl",
	Short: "WebhookHub CLI - operator tooling for the WebhookHub relay",
	Long: `whctl is a command line tool for operating a WebhookHub deployment.

It talks directly to the Postgres database to register sources and
destinations, apply schema migrations, and inspect delivery history.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.whctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres connection string (overrides WHCTL_DSN env var)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "command timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".whctl")
	}

	viper.SetEnvPrefix("whctl")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if !rootCmd.PersistentFlags().Changed("dsn") {
		if v := viper.GetString("dsn"); v != "" {
			dsn = v
		}
	}
	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// getStore connects to Postgres and returns a ready Store plus a cleanup func.
func getStore(ctx context.Context) (*store.Store, func(), error) {
	if dsn == "" {
		return nil, nil, fmt.Errorf("no DSN configured: pass --dsn or set WHCTL_DSN")
	}
	pool, err := store.Connect(ctx, dsn, 2)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return store.New(pool), func() { pool.Close() }, nil
}

// printOutput prints the response in the requested format.
func printOutput(v any) {
	if outputJSON {
		jsonData, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error marshaling to JSON: %v\n", err)
			return
		}
		fmt.Println(string(jsonData))
		return
	}
	fmt.Printf("%+v\n", v)
}
