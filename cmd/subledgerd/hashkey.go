package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PaulFidika/subledger/apikey"
)

// NewHashKeyCommand generates an operator API key and the hash to put in auth.api_keys.
func NewHashKeyCommand() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Generate an API key and its argon2id hash",
		Long: `Generate a new API key (or hash one passed with --secret) and print the
argon2id hash to configure under auth.api_keys. The secret is shown once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				var err error
				if secret, err = apikey.Generate(); err != nil {
					return err
				}
			}
			hash, err := apikey.HashArgon2id(secret)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "secret:", secret)
			fmt.Fprintln(out, "hash:  ", hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "hash this secret instead of generating one")
	return cmd
}
