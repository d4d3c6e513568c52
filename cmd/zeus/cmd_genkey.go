package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeus-ia/zeus/internal/auth"
)

func init() {
	genkeyCmd.Flags().String("dir", "data", "Directory the PEM files are written to")
	rootCmd.AddCommand(genkeyCmd)
}

// Without persistent keys the server signs with an ephemeral pair and every
// restart invalidates issued tokens.
var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate the Ed25519 key pair used to sign JWTs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		privPath, pubPath, err := auth.WriteKeyPair(dir)
		if err != nil {
			return fmt.Errorf("genkey: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "wrote %s\nwrote %s\n", privPath, pubPath)
		fmt.Fprintf(out, "set ZEUS_JWT_PRIVATE_KEY=%s and ZEUS_JWT_PUBLIC_KEY=%s\n", privPath, pubPath)
		return nil
	},
}
