package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"autotrade-engine/internal/cli"
	"autotrade-engine/internal/config"
	"autotrade-engine/internal/logging"
)

func main() {
	// The config directory flag must be resolved before cobra runs so
	// the loaded config can shape the command tree's dependencies.
	configDir := peekConfigDir(os.Args[1:])

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger()

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func peekConfigDir(args []string) string {
	fs := pflag.NewFlagSet("peek", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	dir := fs.String("config", "", "")
	_ = fs.Parse(args)
	return *dir
}
