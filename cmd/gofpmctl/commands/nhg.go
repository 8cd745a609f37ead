package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func nexthopGroupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nexthop-groups",
		Short: "Control nexthop-group streaming",
	}

	toggle := func(enabled bool) error {
		body := map[string]any{"enabled": enabled}
		if err := apiCall("PUT", "/v1/nexthop-groups", body, nil); err != nil {
			return err
		}
		fmt.Printf("nexthop groups enabled=%t (reconnecting)\n", enabled)
		return nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "enable",
		Short: "Stream nexthop-group objects",
		Args:  cobra.NoArgs,
		RunE:  func(_ *cobra.Command, _ []string) error { return toggle(true) },
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Inline nexthops into routes instead of streaming groups",
		Args:  cobra.NoArgs,
		RunE:  func(_ *cobra.Command, _ []string) error { return toggle(false) },
	})
	return cmd
}
