package cmd

import (
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	receiverURL  string
	outputFormat string
	cfgFile      string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ocrctl",
	Short: "CLI for the ocr-relay pipeline",
	Long:  `ocrctl is a command line interface for submitting images, polling results and inspecting the queue of the ocr-relay pipeline.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "service config file (used by queue commands)")
	rootCmd.PersistentFlags().StringVar(&receiverURL, "receiver", "", "receiver API URL (default from OCR_RELAY_RECEIVER_URL or http://localhost:8001)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

func initEnv() {
	viper.AutomaticEnv()
	viper.BindEnv("receiver_url", "OCR_RELAY_RECEIVER_URL")

	if receiverURL == "" {
		receiverURL = viper.GetString("receiver_url")
	}
	if receiverURL == "" {
		receiverURL = "http://localhost:8001"
	}
}

// GetReceiverURL returns the configured receiver URL with trailing slashes removed
func GetReceiverURL() string {
	return strings.TrimRight(receiverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// GetHTTPClient returns the HTTP client used for receiver API calls
func GetHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
