package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platewatch/platewatch/pkg/auth"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an API key and its bcrypt hash",
	Long: `Generates a random API key together with the bcrypt hash the servers verify against.

Store the hash on the server side and hand the plain key to the client. The
plain key is shown once and cannot be recovered from the hash.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("failed to generate API key: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(map[string]string{
			"api_key":      key,
			"api_key_hash": hash,
		})
	}

	fmt.Printf("API key:  %s\n", key)
	fmt.Printf("Key hash: %s\n", hash)
	fmt.Println()
	fmt.Println("Server configuration:")
	fmt.Printf("  lprd:        export API_KEY_HASH='%s'\n", hash)
	fmt.Printf("  platewatchd: set admin.api_key_hash in the config file\n")
	fmt.Printf("  platectl:    export PLATECTL_API_KEY='%s'\n", key)
	return nil
}
