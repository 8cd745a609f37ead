package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// countersSnapshot mirrors the admin API counters payload. The JSON keys
// are the daemon's stable counter names.
type countersSnapshot struct {
	BytesRead        uint32 `json:"bytes-read"`
	BytesSent        uint32 `json:"bytes-sent"`
	ObufBytes        uint32 `json:"obuf-bytes"`
	ObufPeak         uint32 `json:"obuf-bytes-peak"`
	ConnectionCloses uint32 `json:"connection-closes"`
	ConnectionErrors uint32 `json:"connection-errors"`
	DplaneContexts   uint32 `json:"data-plane-contexts"`
	CtxqueueLen      uint32 `json:"data-plane-contexts-queue"`
	CtxqueueLenPeak  uint32 `json:"data-plane-contexts-queue-peak"`
	BufferFull       uint32 `json:"buffer-full-hits"`
	UserConfigures   uint32 `json:"user-configures"`
	UserDisables     uint32 `json:"user-disables"`
}

func countersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Show FPM statistic counters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var snap countersSnapshot
			if err := apiCall("GET", "/v1/counters", nil, &snap); err != nil {
				return err
			}
			if outputFormat == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printCountersTable(snap)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset FPM statistic counters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := apiCall("POST", "/v1/counters/reset", nil, nil); err != nil {
				return err
			}
			fmt.Println("counters reset")
			return nil
		},
	})

	return cmd
}

// printCountersTable renders the counters the way a routing suite's
// "show counters" does: one labelled line per counter.
func printCountersTable(snap countersSnapshot) {
	fmt.Printf("%30s\n%30s\n", "FPM counters", "============")

	row := func(label string, v uint32) {
		fmt.Printf("%28s: %d\n", label, v)
	}
	row("Input bytes", snap.BytesRead)
	row("Output bytes", snap.BytesSent)
	row("Output buffer current size", snap.ObufBytes)
	row("Output buffer peak size", snap.ObufPeak)
	row("Connection closes", snap.ConnectionCloses)
	row("Connection errors", snap.ConnectionErrors)
	row("Data plane items processed", snap.DplaneContexts)
	row("Data plane items enqueued", snap.CtxqueueLen)
	row("Data plane items queue peak", snap.CtxqueueLenPeak)
	row("Buffer full hits", snap.BufferFull)
	row("User FPM configurations", snap.UserConfigures)
	row("User FPM disable requests", snap.UserDisables)
}
