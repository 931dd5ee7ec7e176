// Command exchange-cache runs a response cache in front of an HTTP upstream.
//
// Usage:
//
//	exchange-cache serve --config cache.yaml
//	exchange-cache digest --url http://backend/v1/orders --header "Accept: application/json"
//	exchange-cache config --config cache.yaml
//	exchange-cache version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "exchange-cache",
		Short:         "Request/response cache for HTTP pipelines",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newDigestCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print exchange-cache version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "exchange-cache version %s\n", version)
		},
	})
	return root
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
