package main

import (
	"fmt"
	"strings"

	"github.com/dropDatabas3/linkbroker/internal/broker"
	"github.com/spf13/cobra"
)

func newPlatformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "Lista las plataformas soportadas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, p := range broker.SupportedPlatforms() {
				spec, _ := broker.LookupPlatform(p)
				fmt.Fprintf(out, "%-10s %s\n", p, strings.Join(spec.Scopes, " "))
			}
			return nil
		},
	}
}
