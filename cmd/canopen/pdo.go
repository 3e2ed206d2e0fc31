package main

import (
	"fmt"
	"strings"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	"github.com/cotlab/gocanopen/pkg/od"
	"github.com/cotlab/gocanopen/pkg/pdo"
	"github.com/spf13/cobra"
)

type pdoFlags struct {
	typeName string
	remote   bool
}

func newPDOCmd(global *globalFlags) *cobra.Command {
	flags := &pdoFlags{}
	cmd := &cobra.Command{
		Use:   "pdo <cobid> [payload]",
		Short: "Inject a PDO",
		Long: `Inject a PDO. The payload is a list of bytes separated by ';', or a single
value encoded little endian when --type is given.`,
		Example: `  canopen pdo 0x201 "0x01;0x02"
  canopen pdo 0x201 0x0102 --type u16
  canopen pdo 0x181 --remote`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cobId, err := pdo.ParseCobId(args[0])
			if err != nil {
				return err
			}
			payloadArg := ""
			if len(args) == 2 {
				payloadArg = args[1]
			}
			payload, err := flags.payload(payloadArg)
			if err != nil {
				return err
			}
			net, err := global.open()
			if err != nil {
				return err
			}
			defer net.Disconnect()

			if flags.remote {
				err = net.Send(remoteFrame(cobId, payload))
			} else {
				err = net.SendPDO(cobId, payload)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pdo 0x%03x rtr %v : %v\n", cobId, flags.remote, pdo.FormatPayload(payload))
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.typeName, "type", "t", "", "encode the payload as a single u8, u16, u32, u64, ...")
	cmd.Flags().BoolVarP(&flags.remote, "remote", "r", false, "send a remote frame")
	return cmd
}

func (flags *pdoFlags) payload(arg string) ([]byte, error) {
	if flags.typeName == "" {
		return pdo.ParsePayload(arg)
	}
	dataType, err := od.DataTypeFromName(strings.ToLower(flags.typeName))
	if err != nil {
		return nil, err
	}
	payload, err := od.EncodeFromString(arg, dataType)
	if err != nil {
		return nil, err
	}
	if len(payload) > int(pdo.MaxPdoLength) {
		return nil, fmt.Errorf("payload of %v bytes : %w", len(payload), canopen.ErrIllegalArgument)
	}
	return payload, nil
}

// remote frames announce a length but carry no data
func remoteFrame(cobId uint32, payload []byte) can.Frame {
	return can.NewFrame(cobId|can.CanRtrFlag, 0, uint8(len(payload)))
}
