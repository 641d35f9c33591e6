// trainctl is a command-line client for the trainhub service.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var (
		server string
		apiKey string
	)

	rootCmd := &cobra.Command{
		Use:   "trainctl",
		Short: "Manage training jobs on a trainhub service",
	}
	rootCmd.PersistentFlags().StringVar(&server, "server", envOr("TRAINHUB_SERVER", "http://localhost:8080"), "service base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("TRAINHUB_API_KEY"), "bearer token for the job API")

	client := func() *apiClient { return newAPIClient(server, apiKey) }

	rootCmd.AddCommand(submitCmd(client))
	rootCmd.AddCommand(getCmd(client))
	rootCmd.AddCommand(listCmd(client))
	rootCmd.AddCommand(cancelCmd(client))
	rootCmd.AddCommand(watchCmd(client))
	rootCmd.AddCommand(statsCmd(client))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
