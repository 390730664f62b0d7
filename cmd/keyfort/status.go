// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyfort/keyfort/internal/control"
)

// DaemonStatus holds the status information for the broker daemon.
type DaemonStatus struct {
	Running       bool              `json:"running"`
	Health        string            `json:"health,omitempty"`
	PID           int               `json:"pid,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds,omitempty"`
	Sessions      int               `json:"sessions"`
	Schemes       map[string]string `json:"schemes,omitempty"`
	Modules       []string          `json:"modules,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of the running broker daemon",
		Long:  `Show the health, resolved schemes, and session count of the running broker daemon.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	// Register flags
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := queryDaemonStatus()

	var output string
	var err error

	if cfg.jsonOutput {
		output, err = formatStatusJSON(status)
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
	} else {
		output = formatStatusTable(status)
	}

	cmd.Println(output)
	return nil
}

// queryDaemonStatus queries the control socket and returns the daemon status.
func queryDaemonStatus() DaemonStatus {
	var status DaemonStatus

	socketPath := control.SocketPath()

	// Check if socket file exists
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		status.Error = "socket not found"
		return status
	}

	// Create HTTP client for Unix socket
	client := createUnixHTTPClient(socketPath)

	// Query health endpoint
	healthResp, err := client.Get("http://localhost/health")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = healthResp.Body.Close() }()

	var health control.HealthResponse
	if err := json.NewDecoder(healthResp.Body).Decode(&health); err != nil {
		status.Error = fmt.Sprintf("failed to decode health response: %v", err)
		return status
	}

	// Query status endpoint for more details
	statusResp, err := client.Get("http://localhost/status")
	if err != nil {
		// Health succeeded but status failed - still consider running
		status.Running = true
		status.Health = health.Status
		return status
	}
	defer func() { _ = statusResp.Body.Close() }()

	var controlStatus control.StatusResponse
	if err := json.NewDecoder(statusResp.Body).Decode(&controlStatus); err != nil {
		// Health succeeded but status decode failed - still consider running
		status.Running = true
		status.Health = health.Status
		return status
	}

	status.Running = controlStatus.Running
	status.Health = health.Status
	status.PID = controlStatus.PID
	status.UptimeSeconds = controlStatus.UptimeSeconds
	status.Sessions = controlStatus.Sessions
	status.Schemes = controlStatus.Schemes
	status.Modules = controlStatus.Modules

	return status
}

// createUnixHTTPClient creates an HTTP client that connects via Unix socket.
func createUnixHTTPClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
		Timeout: 2 * time.Second,
	}
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status DaemonStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	if !status.Running {
		reason := "not running"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "STATUS\tstopped (%s)\n", reason)
		_ = w.Flush()
		return string(buf)
	}

	_, _ = fmt.Fprintf(w, "STATUS\trunning\n")
	_, _ = fmt.Fprintf(w, "HEALTH\t%s\n", status.Health)
	_, _ = fmt.Fprintf(w, "PID\t%d\n", status.PID)
	_, _ = fmt.Fprintf(w, "UPTIME\t%s\n", formatUptime(status.UptimeSeconds))
	_, _ = fmt.Fprintf(w, "SESSIONS\t%d\n", status.Sessions)

	// Resolved schemes in stable order
	schemes := make([]string, 0, len(status.Schemes))
	for scheme := range status.Schemes {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	for _, scheme := range schemes {
		_, _ = fmt.Fprintf(w, "SCHEME\t%s -> %s\n", scheme, status.Schemes[scheme])
	}
	for _, mod := range status.Modules {
		_, _ = fmt.Fprintf(w, "MODULE\t%s\n", mod)
	}

	_ = w.Flush()
	return string(buf)
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(status DaemonStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}

// formatUptime formats seconds into a human-readable duration.
func formatUptime(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
