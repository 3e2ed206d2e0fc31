package main

import (
	"context"
	"fmt"
	"time"

	canopen "github.com/cotlab/gocanopen"
	"github.com/cotlab/gocanopen/pkg/network"
	"github.com/cotlab/gocanopen/pkg/nmt"
	"github.com/spf13/cobra"
)

func newNMTCmd(global *globalFlags) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "nmt <start|stop|preop|reset|reset-comm> [node]",
		Short: "Send an NMT command, to every node when no node is given",
		Example: `  canopen nmt start 0x10
  canopen nmt start 0x10 --wait 1200ms
  canopen nmt reset`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := nmt.ParseCommand(args[0])
			if err != nil {
				return err
			}
			var nodeId uint8
			if len(args) == 2 {
				if nodeId, err = canopen.ParseNodeId(args[1]); err != nil {
					return err
				}
			}
			if wait > 0 && (nodeId == 0 || command != nmt.CommandEnterOperational) {
				return fmt.Errorf("--wait needs a node and the start command : %w", canopen.ErrIllegalArgument)
			}
			net, err := global.open()
			if err != nil {
				return err
			}
			defer net.Disconnect()

			if wait > 0 {
				// monitor before sending, the first heartbeat may follow the command closely
				if err := net.Heartbeat().Add(nodeId, wait); err != nil {
					return err
				}
			}
			if err := net.Command(nodeId, command); err != nil {
				return err
			}
			if wait > 0 {
				if err := net.WaitUp(context.Background(), nodeId, wait); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "node 0x%02x is up\n", nodeId)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %v to node 0x%02x\n", command, nodeId)
			return nil
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 0, "wait for the node to report operational, "+network.NodeUpTimeout.String()+" is usual")
	return cmd
}
