package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "voicedesk",
		Short:        "voicedesk session processing service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("VOICEDESK_CONFIG"), "path to config.json")

	root.AddCommand(newServeCmd())
	root.AddCommand(newWorkerCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("voicedesk: %v", err)
	}
}
