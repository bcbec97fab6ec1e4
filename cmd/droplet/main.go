// Command droplet drives a solenoid valve on a Firmata board (or a local GPIO
// line) and serves a web panel with a "Priming" toggle and a "Droplet" button.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sweeney/droplet/internal/config"
	"github.com/sweeney/droplet/internal/firmata"
	"github.com/sweeney/droplet/internal/logging"
	"github.com/sweeney/droplet/internal/solenoid"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := config.Defaults()

	root := &cobra.Command{
		Use:           "droplet",
		Short:         "Solenoid valve controller with a web panel",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(opts, cmd.Flags()); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logging.Initialize(opts.Logging())
			return nil
		},
	}
	config.BindFlags(root.PersistentFlags(), opts)

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the web panel daemon",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(opts, notifySignals())
			},
		},
		&cobra.Command{
			Use:   "pulse",
			Short: "Create one droplet and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withController(opts, func(c *solenoid.Controller) error {
					if err := c.Pulse(); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "droplet: valve held open %v\n", c.PulseDuration())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "prime",
			Short: "Hold the valve open until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withController(opts, func(c *solenoid.Controller) error {
					return prime(c, notifySignals(), cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "close",
			Short: "Drive the valve pin low",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withController(opts, func(c *solenoid.Controller) error {
					return c.Close()
				})
			},
		},
		&cobra.Command{
			Use:   "ports",
			Short: "List serial ports",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ports, err := firmata.ListPorts()
				if err != nil {
					return err
				}
				printPorts(cmd.OutOrStdout(), ports)
				return nil
			},
		},
	)

	return root
}

// withController opens the configured board, runs fn and releases the pin.
func withController(opts *config.Options, fn func(*solenoid.Controller) error) error {
	b, err := openBoard(opts)
	if err != nil {
		return err
	}
	c, err := solenoid.New(b.pin,
		solenoid.WithPulseDuration(opts.Pulse()),
		solenoid.WithLogger(logging.GetLogger("solenoid")),
	)
	if err != nil {
		b.pin.Close()
		return err
	}

	runErr := fn(c)
	if err := c.Release(); err != nil && runErr == nil {
		return fmt.Errorf("release: %w", err)
	}
	return runErr
}

// prime opens the valve and keeps it open until a signal arrives.
func prime(c *solenoid.Controller, sig <-chan os.Signal, out io.Writer) error {
	if err := c.Open(); err != nil {
		return err
	}
	fmt.Fprintln(out, "priming: valve open, interrupt to close")
	s := <-sig
	fmt.Fprintf(out, "priming: %v, closing valve\n", s)
	return c.Close()
}

func printPorts(w io.Writer, ports []firmata.PortInfo) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tUSB\tVID:PID\tSERIAL\tPRODUCT")
	for _, p := range ports {
		usb, id := "no", ""
		if p.IsUSB {
			usb, id = "yes", p.VID+":"+p.PID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Name, usb, id, p.SerialNumber, p.Product)
	}
	tw.Flush()
}

func notifySignals() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
