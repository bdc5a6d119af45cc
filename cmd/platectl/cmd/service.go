package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/platewatch/platewatch/pkg/models"
)

// healthCmd checks the recognition service directly
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the recognition service /health endpoint",
	RunE:  runHealth,
}

// statusCmd asks the supervisor for its lifecycle view
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the supervisor's view of the service",
	Long:  `Fetches the platewatchd status snapshot: lifecycle state, probe counters, restarts, memory and recent transitions.`,
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the supervised service",
	Long:  `Operator stop: the supervisor terminates the service process and parks it. No automatic restart happens until an explicit start.`,
	RunE:  runStop,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a stopped service",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(startCmd)
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Service   string `json:"service"`
	Version   string `json:"version"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	var result healthResponse
	if err := getJSON(ServerURL()+"/health", &result); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(result)
	}

	fmt.Printf("✓ %s is %s (version %s)\n", result.Service, result.Status, result.Version)
	return nil
}

func fetchStatus() (*models.ServiceStatus, error) {
	var st models.ServiceStatus
	if err := getJSON(SupervisorURL()+"/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := fetchStatus()
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(st)
	}

	renderStatus(st)
	return nil
}

func renderStatus(st *models.ServiceStatus) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Service", st.Name)
	table.Append("State", string(st.State))
	if st.PID != 0 {
		table.Append("PID", fmt.Sprintf("%d", st.PID))
	}
	if st.UptimeSeconds > 0 {
		table.Append("Uptime", (time.Duration(st.UptimeSeconds) * time.Second).String())
	}
	table.Append("Restarts", fmt.Sprintf("%d", st.Restarts))
	table.Append("Probes", fmt.Sprintf("%d (%d failed)", st.ProbesTotal, st.ProbeFailuresTotal))
	table.Append("Consecutive Failures", fmt.Sprintf("%d", st.ConsecutiveFailures))

	if st.LastProbe != nil {
		outcome := "ok"
		if !st.LastProbe.Success {
			outcome = "failed"
			if st.LastProbe.Error != "" {
				outcome = "failed: " + st.LastProbe.Error
			}
		}
		table.Append("Last Probe", fmt.Sprintf("%s (%dms)", outcome, st.LastProbe.LatencyMS))
	}
	if st.LastExitCode != nil {
		table.Append("Last Exit Code", fmt.Sprintf("%d", *st.LastExitCode))
	}
	if st.MemoryRSSBytes > 0 {
		table.Append("Memory RSS", fmt.Sprintf("%d MB", st.MemoryRSSBytes/(1024*1024)))
	}
	if st.MemoryLimitBytes > 0 {
		table.Append("Memory Limit", fmt.Sprintf("%d MB", st.MemoryLimitBytes/(1024*1024)))
	}

	table.Render()

	if len(st.Transitions) > 0 {
		fmt.Println("\nRecent transitions:")
		transitions := st.Transitions
		if len(transitions) > 5 {
			transitions = transitions[len(transitions)-5:]
		}
		history := tablewriter.NewWriter(os.Stdout)
		history.Header("When", "From", "To", "Reason")
		for _, tr := range transitions {
			history.Append(
				tr.Timestamp.Format("2006-01-02 15:04:05"),
				string(tr.From),
				string(tr.To),
				tr.Reason,
			)
		}
		history.Render()
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	if err := postSupervisor("/stop"); err != nil {
		return err
	}
	if !IsJSONOutput() {
		fmt.Println("✓ Service stopped")
	}
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	if err := postSupervisor("/start"); err != nil {
		return err
	}
	if !IsJSONOutput() {
		fmt.Println("✓ Service starting")
	}
	return nil
}

func postSupervisor(path string) error {
	u := SupervisorURL() + path

	req, err := NewRequest("POST", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client, err := GetHTTPClient()
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if IsJSONOutput() {
		fmt.Println(strings.TrimSpace(string(body)))
	}
	return nil
}
