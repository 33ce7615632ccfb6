package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/globaltender/internal/api"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Prints the version",
		Annotations: map[string]string{skipAppAnnotation: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "globaltender %s\n", api.Version)
		},
	}
}
