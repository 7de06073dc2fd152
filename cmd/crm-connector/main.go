package main

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {

	var apiListenAddr string
	var workerListenAddr string
	var consumerListenAddr string

	// rootCmd represents the base command when called without any subcommands
	var rootCmd = &cobra.Command{
		Use: "crm-connector",
	}

	var apiServerCmd = &cobra.Command{
		Use:   "api_server",
		Short: "CRM Connector API Server",
		Run: func(cmd *cobra.Command, args []string) {
			startCrmConnectorApiServer(apiListenAddr)
		},
	}

	var syncWorkerCmd = &cobra.Command{
		Use:   "sync_worker",
		Short: "CRM Sync Worker",
		Run: func(cmd *cobra.Command, args []string) {
			startCrmSyncWorker(workerListenAddr)
		},
	}

	var outcomeConsumerCmd = &cobra.Command{
		Use:   "outcome_consumer",
		Short: "Call Outcome Kafka Consumer",
		Run: func(cmd *cobra.Command, args []string) {
			startCallOutcomeConsumer(consumerListenAddr)
		},
	}

	rootCmd.AddCommand(apiServerCmd)
	apiServerCmd.Flags().StringVarP(&apiListenAddr, "listen-addr", "l", ":8081", "Hostname:port")

	rootCmd.AddCommand(syncWorkerCmd)
	syncWorkerCmd.Flags().StringVarP(&workerListenAddr, "listen-addr", "l", ":9090", "Hostname:port")

	rootCmd.AddCommand(outcomeConsumerCmd)
	outcomeConsumerCmd.Flags().StringVarP(&consumerListenAddr, "listen-addr", "l", ":9091", "Hostname:port")

	return rootCmd
}

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
