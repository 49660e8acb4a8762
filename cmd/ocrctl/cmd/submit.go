package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bkose/ocr-relay/pkg/models"
)

var (
	submitImageURL    string
	submitUserID      string
	submitTimestamp   string
	submitCallbackURL string
)

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an image for OCR processing",
	Long:  `Submit an image URL to the receiver. The job is processed asynchronously; use "ocrctl result <task-id>" to poll the outcome.`,
	RunE:  runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitImageURL, "image-url", "", "image URL to process (required)")
	submitCmd.Flags().StringVar(&submitUserID, "user", "", "user identifier")
	submitCmd.Flags().StringVar(&submitTimestamp, "timestamp", "", "client timestamp (RFC3339, defaults to now)")
	submitCmd.Flags().StringVar(&submitCallbackURL, "callback", "", "webhook URL for result delivery")
	submitCmd.MarkFlagRequired("image-url")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if submitTimestamp == "" {
		submitTimestamp = time.Now().UTC().Format(time.RFC3339)
	}

	req := models.ProcessRequest{
		ImageURL:    submitImageURL,
		UserID:      submitUserID,
		Timestamp:   submitTimestamp,
		CallbackURL: submitCallbackURL,
	}
	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	client := GetHTTPClient()
	resp, err := client.Post(GetReceiverURL()+"/process", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to connect to receiver API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result models.ProcessResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

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
	table.Append("Enqueued At", result.EnqueuedAt)
	table.Append("Queue Size", fmt.Sprintf("%d", result.QueueSize))
	table.Render()

	fmt.Printf("\nJob submitted! Poll with: ocrctl result %s\n", result.TaskID)
	return nil
}
