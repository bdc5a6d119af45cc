package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the platectl configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long:  `Writes a commented configuration file to $HOME/.platectl/config.yaml (or the path given with --config).`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing config file")
}

const configTemplate = `# platectl configuration
# Values here are overridden by PLATECTL_* environment variables and flags.

# Recognition service base URL (lprd)
server: http://localhost:8000

# Supervisor admin base URL (platewatchd)
supervisor: http://localhost:9400

# Plain API key, generate one with 'platectl keygen'
# api_key: ""

# CA certificate for self-signed server TLS
# ca: /etc/platewatch/certs/lprd.crt
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to determine home directory: %w", err)
		}
		path = filepath.Join(home, ".platectl", "config.yaml")
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// 0600: the file may hold an API key
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("✓ Config written to %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	source := viper.ConfigFileUsed()
	if source == "" {
		source = "(defaults)"
	}

	if IsJSONOutput() {
		return printJSON(map[string]string{
			"config_file": source,
			"server":      ServerURL(),
			"supervisor":  SupervisorURL(),
			"api_key":     maskKey(apiKey),
			"ca":          caFile,
		})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Setting", "Value")
	table.Append("Config File", source)
	table.Append("Server", ServerURL())
	table.Append("Supervisor", SupervisorURL())
	table.Append("API Key", maskKey(apiKey))
	if caFile != "" {
		table.Append("CA Certificate", caFile)
	}
	table.Render()
	return nil
}

func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
