package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bkose/ocr-relay/pkg/models"
)

var sinkAddr string

// webhookSinkCmd represents the webhook-sink command
var webhookSinkCmd = &cobra.Command{
	Use:   "webhook-sink",
	Short: "Run a local webhook receiver for testing callbacks",
	Long:  `Run a small HTTP server that accepts result callbacks and prints them. Useful as the --callback target when testing the pipeline end to end.`,
	RunE:  runWebhookSink,
}

func init() {
	rootCmd.AddCommand(webhookSinkCmd)
	webhookSinkCmd.Flags().StringVar(&sinkAddr, "listen", ":9999", "listen address for the sink")
}

func runWebhookSink(cmd *cobra.Command, args []string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var result models.Result
		if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		fmt.Printf("[%s] callback: task=%s status=%s", time.Now().Format("15:04:05"), result.TaskID, result.Status)
		if result.PhoneNumber != "" {
			fmt.Printf(" phone=%s confidence=%.2f", result.PhoneNumber, result.Confidence)
		}
		if result.Error != "" {
			fmt.Printf(" error=%q", result.Error)
		}
		fmt.Println()

		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: sinkAddr, Handler: mux}
	go func() {
		fmt.Printf("Webhook sink listening on %s (press Ctrl+C to stop)\n", sinkAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Sink failed: %v\n", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	return server.Close()
}
