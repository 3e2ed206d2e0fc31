package main

import (
	"context"
	"os"
	"os/signal"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	"github.com/cotlab/gocanopen/pkg/heartbeat"
	"github.com/cotlab/gocanopen/pkg/nmt"
	n "github.com/cotlab/gocanopen/pkg/node"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(global *globalFlags) *cobra.Command {
	var nodeArg, eds string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local node with an SDO server, NMT and heartbeats until interrupted",
		Example: `  canopen serve --config stack.ini
  canopen serve -i virtual -c test --node 0x20 --eds node.eds`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := global.stack()
			if err != nil {
				return err
			}
			if nodeArg != "" {
				if stack.Node.Id, err = canopen.ParseNodeId(nodeArg); err != nil {
					return err
				}
			}
			if eds != "" {
				stack.Node.EDS = eds
			}
			if err := stack.Validate(); err != nil {
				return err
			}
			bus, err := can.NewBus(stack.Bus.Interface, stack.Bus.Channel, stack.Bus.Bitrate)
			if err != nil {
				return err
			}
			bm := canopen.NewBusManager(bus, nil)
			if err := bm.Connect(); err != nil {
				return err
			}
			defer bm.Disconnect()

			node, err := n.NewLocalNodeFromConfig(bm, nil, stack)
			if err != nil {
				return err
			}
			defer node.Close()
			node.NMT.OnStateChange(func(state uint8) {
				log.Infof("node x%x is %v", stack.Node.Id, nmt.StateDescription(state))
			})
			node.HBConsumer.OnEvent(func(event uint8, nodeId uint8, nmtState uint8) {
				log.Infof("heartbeat %v node x%x %v", heartbeat.EventDescription(event), nodeId, nmt.StateDescription(nmtState))
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return node.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&nodeArg, "node", "", "node id (default from config)")
	cmd.Flags().StringVar(&eds, "eds", "", "EDS file of the node (default from config)")
	return cmd
}
