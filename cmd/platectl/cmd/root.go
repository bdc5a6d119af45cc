package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	tlsutil "github.com/platewatch/platewatch/pkg/tls"
)

var (
	cfgFile       string
	serverURL     string
	supervisorURL string
	jsonOutput    bool
	caFile        string
	apiKey        string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "platectl",
	Short: "CLI for the platewatch recognition stack",
	Long: `platectl talks to the lprd recognition API and the platewatchd
supervisor: query plate records, check service health, and inspect or
control the supervised lifecycle.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.platectl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "lprd API URL (default from config or http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&supervisorURL, "supervisor", "", "platewatchd admin URL (default from config or http://localhost:9400)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON instead of tables")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca", "", "CA certificate for TLS server verification")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".platectl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PLATECTL")
	viper.AutomaticEnv()
	viper.BindEnv("api_key", "PLATECTL_API_KEY")

	// A missing config file is fine; flags and env still apply.
	_ = viper.ReadInConfig()

	if serverURL == "" {
		serverURL = viper.GetString("server")
	}
	if supervisorURL == "" {
		supervisorURL = viper.GetString("supervisor")
	}
	apiKey = viper.GetString("api_key")

	if serverURL == "" {
		serverURL = "http://localhost:8000"
	}
	if supervisorURL == "" {
		supervisorURL = "http://localhost:9400"
	}
}

// ServerURL returns the lprd base URL with trailing slashes removed
func ServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// SupervisorURL returns the platewatchd base URL with trailing slashes removed
func SupervisorURL() string {
	return strings.TrimRight(supervisorURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return jsonOutput
}

// GetHTTPClient builds the client, loading the CA bundle when one is configured
func GetHTTPClient() (*http.Client, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	if caFile != "" {
		tlsConfig, err := tlsutil.LoadClientTLSConfig("", "", caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
		client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	return client, nil
}

// NewRequest creates an HTTP request carrying the API key when one is configured
func NewRequest(method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req, nil
}

// getJSON fetches url and decodes the 200 response body into out
func getJSON(url string, out interface{}) error {
	req, err := NewRequest("GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client, err := GetHTTPClient()
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// printJSON renders v with indentation
func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
