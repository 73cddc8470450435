package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "image-gateway",
		Short:   "Multi-tenant image optimization gateway",
		Version: version,
	}

	serve := newServeCmd()
	root.RunE = serve.RunE

	root.AddCommand(
		serve,
		newMigrateCmd(),
		newSeedCmd(),
		newSignCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
