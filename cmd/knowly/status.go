// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/knowly/knowly/internal/config"
	"github.com/knowly/knowly/internal/control"
)

// ServiceStatus holds the health of one gRPC health service name.
type ServiceStatus struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// ProcessStatus holds the status information for a knowly process.
type ProcessStatus struct {
	Addr     string          `json:"addr"`
	Running  bool            `json:"running"`
	Services []ServiceStatus `json:"services"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	addr       string
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running knowly process",
		Long:  `Query the gRPC health service of a running knowly process and report whether it is serving.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().StringVar(&cfg.addr, "addr", "", "control address (default: control.addr from config)")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "health check timeout")

	return cmd
}

// runStatus executes the status command. It returns an error when the
// process is not serving so scripts can rely on the exit code.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	addr := cfg.addr
	if addr == "" {
		loaded, err := config.LoadUnvalidated(configOptions(cmd))
		if err != nil {
			return err
		}
		addr = loaded.Control.Addr
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st := queryProcessStatus(ctx, addr, cfg.timeout)

	var output string
	if cfg.jsonOutput {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
		}
		output = string(data)
	} else {
		output = formatStatusTable(st)
	}
	cmd.Println(output)

	if !st.Running {
		return oops.Code("NOT_SERVING").With("addr", addr).Errorf("knowly is not serving")
	}
	return nil
}

// queryProcessStatus checks the overall and account service health.
func queryProcessStatus(ctx context.Context, addr string, timeout time.Duration) ProcessStatus {
	st := ProcessStatus{Addr: addr, Running: true}
	for _, service := range []string{"", control.ServiceName} {
		s := ServiceStatus{Service: service}
		if service == "" {
			s.Service = "overall"
		}

		health, err := control.Check(ctx, addr, service, timeout)
		s.Status = health.String()
		if err != nil {
			s.Error = err.Error()
		}
		if err != nil || s.Status != "SERVING" {
			st.Running = false
		}
		st.Services = append(st.Services, s)
	}
	return st
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(st ProcessStatus) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "ADDR\t%s\n", st.Addr)
	_, _ = fmt.Fprintln(w, "SERVICE\tSTATUS\tERROR")
	_, _ = fmt.Fprintln(w, "-------\t------\t-----")
	for _, s := range st.Services {
		errText := "-"
		if s.Error != "" {
			errText = s.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Service, s.Status, errText)
	}

	_ = w.Flush()
	return buf.String()
}
