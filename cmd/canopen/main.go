package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	can "github.com/cotlab/gocanopen/pkg/can"
	_ "github.com/cotlab/gocanopen/pkg/can/socketcan"
	_ "github.com/cotlab/gocanopen/pkg/can/virtual"
	"github.com/cotlab/gocanopen/pkg/config"
	"github.com/cotlab/gocanopen/pkg/network"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	iface     string
	channel   string
	bitrate   int
	config    string
	timeout   time.Duration
	verbosity int
	quiet     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "canopen",
		Short: "CANopen tool for reading and writing objects, injecting PDOs and monitoring traffic",
		Long: `canopen talks to CANopen nodes on a CAN bus. Values given on the command
line may be decimal, hexadecimal (0x) or binary (0b).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetLevel(flags.level())
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.iface, "interface", "i", "", "CAN interface type e.g. socketcan, socketcanraw, virtual (default from config)")
	cmd.PersistentFlags().StringVarP(&flags.channel, "channel", "c", "", "CAN channel e.g. can0, vcan0 (default from config)")
	cmd.PersistentFlags().IntVar(&flags.bitrate, "bitrate", 0, "CAN bitrate (default from config)")
	cmd.PersistentFlags().StringVar(&flags.config, "config", "", "stack configuration file (ini)")
	cmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 0, "SDO response timeout (default from config)")
	cmd.PersistentFlags().CountVarP(&flags.verbosity, "verbose", "v", "more output, repeat for more (-vvv)")
	cmd.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "only print results and errors")

	cmd.AddCommand(newReadCmd(flags))
	cmd.AddCommand(newWriteCmd(flags))
	cmd.AddCommand(newPDOCmd(flags))
	cmd.AddCommand(newMonitorCmd(flags))
	cmd.AddCommand(newNMTCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	return cmd
}

func (flags *globalFlags) level() log.Level {
	if flags.quiet {
		return log.ErrorLevel
	}
	level := log.WarnLevel + log.Level(flags.verbosity)
	if level > log.TraceLevel {
		level = log.TraceLevel
	}
	return level
}

// stack loads the configuration file if any, then applies the flags
// given explicitly
func (flags *globalFlags) stack() (*config.Stack, error) {
	stack := config.Default()
	if flags.config != "" {
		var err error
		stack, err = config.Load(flags.config)
		if err != nil {
			return nil, fmt.Errorf("loading %v : %w", flags.config, err)
		}
	}
	if flags.iface != "" {
		stack.Bus.Interface = flags.iface
	}
	if flags.channel != "" {
		stack.Bus.Channel = flags.channel
	}
	if flags.bitrate > 0 {
		stack.Bus.Bitrate = flags.bitrate
	}
	if flags.timeout > 0 {
		stack.SDO.Timeout = flags.timeout
	}
	return stack, stack.Validate()
}

func (flags *globalFlags) open() (*network.Network, error) {
	stack, err := flags.stack()
	if err != nil {
		return nil, err
	}
	log.Infof("CAN interface : %v %v (available %v)", stack.Bus.Interface, stack.Bus.Channel, can.AvailableInterfaces())
	return network.Open(stack, nil)
}

// parseUint accepts decimal, 0x and 0b notations
func parseUint(s string, bits int) (uint64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	value, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q for %v bits", s, bits)
	}
	return value, nil
}

func parseObject(indexArg string, subindexArg string) (index uint16, subindex uint8, err error) {
	value, err := parseUint(indexArg, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("index : %w", err)
	}
	index = uint16(value)
	if subindexArg == "" {
		return index, 0, nil
	}
	value, err = parseUint(subindexArg, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("subindex : %w", err)
	}
	return index, uint8(value), nil
}
