package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverAddr is the daemon admin address (host:port).
	serverAddr string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// httpClient is the shared admin API client.
	httpClient = &http.Client{Timeout: 10 * time.Second}
)

// errRequestFailed indicates a non-2xx admin API response.
var errRequestFailed = errors.New("request failed")

// rootCmd is the top-level cobra command for gofpmctl.
var rootCmd = &cobra.Command{
	Use:   "gofpmctl",
	Short: "CLI client for the gofpm daemon",
	Long:  "gofpmctl communicates with the gofpm daemon over its HTTP admin API to manage the FPM connection.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "127.0.0.1:9620",
		"gofpm daemon admin address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(countersCmd())
	rootCmd.AddCommand(addressCmd())
	rootCmd.AddCommand(nexthopGroupsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// -------------------------------------------------------------------------
// Admin API helpers
// -------------------------------------------------------------------------

// apiCall performs one admin API request and decodes a JSON response into
// out when out is non-nil.
func apiCall(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, "http://"+serverAddr+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s: %w", method, path, apiErr.Error, errRequestFailed)
		}
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, errRequestFailed)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
