package main

import (
	"context"
	"fmt"
	"strings"

	canopen "github.com/cotlab/gocanopen"
	"github.com/cotlab/gocanopen/pkg/od"
	"github.com/cotlab/gocanopen/pkg/pdo"
	"github.com/spf13/cobra"
)

func newReadCmd(global *globalFlags) *cobra.Command {
	var typeName string
	cmd := &cobra.Command{
		Use:     "read <node> <index> [subindex]",
		Aliases: []string{"rod"},
		Short:   "Read an object of a node over SDO",
		Example: `  # raw bytes of the device type
  canopen read 0x10 0x1000

  # heartbeat producer time as u16
  canopen read 0x10 0x1017 0 --type u16`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeId, err := canopen.ParseNodeId(args[0])
			if err != nil {
				return err
			}
			subindexArg := ""
			if len(args) == 3 {
				subindexArg = args[2]
			}
			index, subindex, err := parseObject(args[1], subindexArg)
			if err != nil {
				return err
			}
			var dataType uint8
			if typeName != "" {
				if dataType, err = od.DataTypeFromName(strings.ToLower(typeName)); err != nil {
					return err
				}
			}
			net, err := global.open()
			if err != nil {
				return err
			}
			defer net.Disconnect()

			data, err := net.ReadRaw(context.Background(), nodeId, index, subindex)
			if err != nil {
				return fmt.Errorf("reading 0x%04x,0x%02x @ 0x%02x : %w", index, subindex, nodeId, err)
			}
			value := pdo.FormatPayload(data)
			if typeName != "" {
				if value, err = od.DecodeToString(data, dataType, 10); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "object 0x%04x,0x%02x @ 0x%02x : %v\n", index, subindex, nodeId, value)
			return nil
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "", "decode the value as u8, u16, i32, str, ... (default raw bytes)")
	return cmd
}

func newWriteCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "write <node> <index> <subindex> <type> <value>",
		Aliases: []string{"wod"},
		Short:   "Write an object of a node over SDO",
		Example: `  canopen write 0x11 0x8193 5 u8 0x01
  canopen write 0x11 0x1017 0 u16 1000`,
		Args: cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeId, err := canopen.ParseNodeId(args[0])
			if err != nil {
				return err
			}
			index, subindex, err := parseObject(args[1], args[2])
			if err != nil {
				return err
			}
			typeName := strings.ToLower(args[3])
			if _, err := od.DataTypeFromName(typeName); err != nil {
				return err
			}
			net, err := global.open()
			if err != nil {
				return err
			}
			defer net.Disconnect()

			err = net.WriteObjectString(context.Background(), nodeId, index, subindex, typeName, args[4])
			if err != nil {
				return fmt.Errorf("writing 0x%04x,0x%02x @ 0x%02x : %w", index, subindex, nodeId, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "object 0x%04x,0x%02x @ 0x%02x updated\n", index, subindex, nodeId)
			return nil
		},
	}
	return cmd
}
