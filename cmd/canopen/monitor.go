package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	canopen "github.com/cotlab/gocanopen"
	"github.com/cotlab/gocanopen/pkg/emergency"
	"github.com/cotlab/gocanopen/pkg/network"
	"github.com/cotlab/gocanopen/pkg/nmt"
	ct "github.com/cotlab/gocanopen/pkg/time"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type monitorFlags struct {
	nodes      []string
	frameTypes []string
}

func newMonitorCmd(global *globalFlags) *cobra.Command {
	flags := &monitorFlags{}
	cmd := &cobra.Command{
		Use:     "monitor",
		Aliases: []string{"mon"},
		Short:   "Print the traffic of the bus until interrupted",
		Example: `  # heartbeats and PDOs of nodes 0x10 and 0x11
  canopen monitor -n 0x10 -n 0x11 -f err -f pdo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			net, err := global.open()
			if err != nil {
				return err
			}
			defer net.Disconnect()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			out := cmd.OutOrStdout()
			cancel := net.Sniff(filter, func(msg canopen.Message) {
				fmt.Fprintf(out, "%v %v%v\n", time.Now().Format("15:04:05.000"), msg, describe(msg))
			})
			defer cancel()
			log.Infof("monitoring nodes %v frame types %v", flags.nodes, flags.frameTypes)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&flags.nodes, "nodes", "n", nil, "node ids to show (default all)")
	cmd.Flags().StringSliceVarP(&flags.frameTypes, "frame-types", "f", nil, "frame types to show : pdo, sdo, nmt, emg, err, sync, time (default all)")
	return cmd
}

func (flags *monitorFlags) filter() (network.Filter, error) {
	filter := network.Filter{}
	for _, arg := range flags.nodes {
		nodeId, err := canopen.ParseNodeId(arg)
		if err != nil {
			return filter, err
		}
		filter.Nodes = append(filter.Nodes, nodeId)
	}
	for _, arg := range flags.frameTypes {
		types, err := network.ParseFrameKind(arg)
		if err != nil {
			return filter, err
		}
		filter.Types = append(filter.Types, types...)
	}
	return filter, nil
}

func describe(msg canopen.Message) string {
	switch msg.Type {
	case canopen.MessageHeartbeat:
		return " " + nmt.StateDescription(msg.State())
	case canopen.MessageNMT:
		command, nodeId := msg.NMTCommand()
		return fmt.Sprintf(" %v node x%x", nmt.Command(command), nodeId)
	case canopen.MessageSDORequest, canopen.MessageSDOResponse:
		return fmt.Sprintf(" x%04x|x%02x", msg.Index(), msg.Subindex())
	case canopen.MessageEmergency:
		if report, err := emergency.Decode(msg); err == nil {
			return " " + report.String()
		}
	case canopen.MessageTime:
		if stamp, err := ct.Decode(msg.Payload()); err == nil {
			return " " + stamp.Format("2006-01-02 15:04:05.000")
		}
	case canopen.MessageSync:
		if msg.Length == 1 {
			return fmt.Sprintf(" #%d", msg.Data[0])
		}
	}
	return ""
}
