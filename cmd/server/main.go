package main

import (
	"fmt"
	"log"
	"os"

	"shiftbot/internal/config"
	"shiftbot/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "shiftbot",
		Short:         "Telegram work-shift tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file (ignore error if file doesn't exist)
			envErr := godotenv.Load()

			// Initialize structured logging (JSON in production, text in dev)
			logging.Init()

			if envErr != nil {
				log.Printf("⚠️  No .env file found or error loading it: %v", envErr)
			} else {
				log.Println("✅ .env file loaded successfully")
			}

			cfg = config.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	root.AddCommand(
		newServeCmd(func() *config.Config { return cfg }),
		newExportCmd(func() *config.Config { return cfg }),
	)
	return root
}
