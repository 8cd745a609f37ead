package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// statusResponse mirrors the admin API status payload.
type statusResponse struct {
	State            string `json:"state"`
	Disabled         bool   `json:"disabled"`
	Address          string `json:"address"`
	Port             uint16 `json:"port"`
	UseNextHopGroups bool   `json:"use-next-hop-groups"`
}

// defaultPeerPort is the conventional FPM port, elided from the rendered
// configuration like any default.
const defaultPeerPort = 2620

func statusCmd() *cobra.Command {
	var asConfig bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the FPM connection status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var st statusResponse
			if err := apiCall("GET", "/v1/status", nil, &st); err != nil {
				return err
			}

			switch {
			case asConfig:
				printRunningConfig(st)
			case outputFormat == "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			default:
				fmt.Printf("State:            %s\n", st.State)
				fmt.Printf("Disabled:         %t\n", st.Disabled)
				fmt.Printf("Peer:             %s port %d\n", st.Address, st.Port)
				fmt.Printf("Next-hop groups:  %t\n", st.UseNextHopGroups)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asConfig, "config", false,
		"render the status as configuration statements")
	return cmd
}

// printRunningConfig renders the effective settings as the configuration
// statements that would produce them. Disabled sessions render nothing
// for the address, and defaults are elided.
func printRunningConfig(st statusResponse) {
	if !st.Disabled {
		line := fmt.Sprintf("fpm address %s", st.Address)
		if st.Port != defaultPeerPort {
			line += fmt.Sprintf(" port %d", st.Port)
		}
		fmt.Println(line)
	}
	if !st.UseNextHopGroups {
		fmt.Println("no fpm use-next-hop-groups")
	}
}
