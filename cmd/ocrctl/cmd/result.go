package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bkose/ocr-relay/pkg/extract"
	"github.com/bkose/ocr-relay/pkg/models"
)

var followResult bool

// resultCmd represents the result command
var resultCmd = &cobra.Command{
	Use:   "result <task-id>",
	Short: "Get the result of a submitted job",
	Long:  `Retrieve the processing result for a task. Jobs that are queued, mid-attempt or unknown report status "processing".`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResult,
}

func init() {
	rootCmd.AddCommand(resultCmd)
	resultCmd.Flags().BoolVar(&followResult, "follow", false, "poll every 2 seconds until the job completes or fails")
}

func runResult(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	if followResult {
		fmt.Printf("Following task %s (press Ctrl+C to stop)...\n\n", taskID)
		for {
			result, err := fetchResult(taskID)
			if err != nil {
				return err
			}
			if result.Status == models.JobStatusCompleted || result.Status == models.JobStatusError {
				return printResult(result)
			}
			fmt.Printf("[%s] status: %s\n", time.Now().Format("15:04:05"), result.Status)
			time.Sleep(2 * time.Second)
		}
	}

	result, err := fetchResult(taskID)
	if err != nil {
		return err
	}
	return printResult(result)
}

func fetchResult(taskID string) (*models.ResultResponse, error) {
	client := GetHTTPClient()
	resp, err := client.Get(GetReceiverURL() + "/result/" + taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to receiver API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result models.ResultResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func printResult(result *models.ResultResponse) error {
	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Task ID", result.TaskID)
	table.Append("Status", string(result.Status))

	if result.Result != nil {
		table.Append("Phone Number", extract.FormatNumber(result.Result.PhoneNumber, false))
		table.Append("Confidence", fmt.Sprintf("%.2f", result.Result.Confidence))
		table.Append("Processing Time", fmt.Sprintf("%.2fs", result.Result.ProcessingTime))
		table.Append("Processed At", result.Result.ProcessedAt)
	}
	if result.Error != "" {
		table.Append("Error", result.Error)
	}
	table.Render()
	return nil
}
