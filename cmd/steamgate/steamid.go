package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/steamgate/internal/steamid"
)

func newSteamIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steamid <id64>...",
		Short: "Print the legacy STEAM_X:Y:Z form of SteamID64 values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, a := range args {
				id, err := steamid.Parse(a)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\n", id, id.Legacy())
			}
			return nil
		},
	}
}
