package commands

import (
	"fmt"
	"net/netip"

	"github.com/spf13/cobra"
)

func addressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Configure the FPM peer address",
	}

	var port uint16
	set := &cobra.Command{
		Use:   "set <ip>",
		Short: "Set the FPM peer address and reconnect",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := netip.ParseAddr(args[0]); err != nil {
				return fmt.Errorf("parse address %q: %w", args[0], err)
			}
			body := map[string]any{"address": args[0], "port": port}
			if err := apiCall("PUT", "/v1/address", body, nil); err != nil {
				return err
			}
			fmt.Printf("fpm address %s configured\n", args[0])
			return nil
		},
	}
	set.Flags().Uint16Var(&port, "port", 0, "FPM peer port (default 2620)")

	unset := &cobra.Command{
		Use:   "unset",
		Short: "Remove the FPM peer address and disable the session",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := apiCall("DELETE", "/v1/address", nil, nil); err != nil {
				return err
			}
			fmt.Println("fpm session disabled")
			return nil
		},
	}

	cmd.AddCommand(set)
	cmd.AddCommand(unset)
	return cmd
}
