package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/platewatch/platewatch/pkg/models"
)

var (
	listPlate  string
	listLimit  int
	listOffset int
)

// recordsCmd represents the records command
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage stored plate records",
	Long:  `Commands for listing, inspecting and deleting plate records persisted by the recognition service.`,
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plate records",
	Long:  `List persisted plate records, newest first. Filter by plate text and page with --limit/--offset.`,
	RunE:  runRecordsList,
}

var recordsGetCmd = &cobra.Command{
	Use:   "get <record-id>",
	Short: "Show one plate record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsGet,
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <record-id>",
	Short: "Delete a plate record and its stored image",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsDelete,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsGetCmd)
	recordsCmd.AddCommand(recordsDeleteCmd)

	recordsListCmd.Flags().StringVar(&listPlate, "plate", "", "filter by plate text")
	recordsListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum records to return")
	recordsListCmd.Flags().IntVar(&listOffset, "offset", 0, "records to skip")
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	u := fmt.Sprintf("%s/plates?limit=%d&offset=%d", ServerURL(), listLimit, listOffset)
	if listPlate != "" {
		u += "&plate=" + url.QueryEscape(listPlate)
	}

	var result models.ListPlatesResponse
	if err := getJSON(u, &result); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(result)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Plate", "Confidence", "Detected At", "Image")

	for _, rec := range result.Records {
		table.Append(
			rec.ID,
			rec.PlateText,
			fmt.Sprintf("%.2f", rec.Confidence),
			rec.DetectedAt.Format("2006-01-02 15:04:05"),
			rec.ImagePath,
		)
	}

	table.Render()
	fmt.Printf("\nShowing %d of %d records\n", len(result.Records), result.Total)
	return nil
}

func runRecordsGet(cmd *cobra.Command, args []string) error {
	u := fmt.Sprintf("%s/plates/%s", ServerURL(), url.PathEscape(args[0]))

	var rec models.PlateRecord
	if err := getJSON(u, &rec); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(rec)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("ID", rec.ID)
	table.Append("Plate", rec.PlateText)
	table.Append("Confidence", fmt.Sprintf("%.4f", rec.Confidence))
	table.Append("Detected At", rec.DetectedAt.Format(time.RFC3339))
	if rec.ImagePath != "" {
		table.Append("Image", rec.ImagePath)
	}

	table.Render()
	return nil
}

func runRecordsDelete(cmd *cobra.Command, args []string) error {
	id := args[0]
	u := fmt.Sprintf("%s/plates/%s", ServerURL(), url.PathEscape(id))

	req, err := NewRequest("DELETE", u, nil)
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
		return nil
	}

	fmt.Printf("✓ Record %s deleted\n", id)
	return nil
}
