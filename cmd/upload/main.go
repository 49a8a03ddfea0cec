// Command upload transfers a local file to a start-server instance.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/frulli-fiuba/go-back-n/internal/fileframe"
	"github.com/frulli-fiuba/go-back-n/internal/validate"
	"github.com/frulli-fiuba/go-back-n/transport"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 9999
)

func main() {
	var (
		host     string
		port     int
		src      string
		name     string
		protocol string
		verbose  bool
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Transfer a file from this client to a running start-server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validate.Host(host); err != nil {
				return err
			}
			if err := validate.Port(port); err != nil {
				return err
			}
			if err := validate.SourceFile(src); err != nil {
				return err
			}
			if err := validate.FileName(name); err != nil {
				return err
			}
			mode, err := parseMode(protocol)
			if err != nil {
				return err
			}

			logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "upload"})
			if quiet {
				logger.SetLevel(log.ErrorLevel)
			} else if verbose {
				logger.SetLevel(log.DebugLevel)
			}

			data, err := os.ReadFile(src)
			if err != nil {
				return fmt.Errorf("reading source file: %w", err)
			}

			logger.Info("dialing", "host", host, "port", port, "mode", mode)
			ep, err := transport.Dial(host, port, mode)
			if err != nil {
				return fmt.Errorf("connecting to %s:%d: %w", host, port, err)
			}
			defer ep.Close()

			if err := fileframe.SendRequest(ep, fileframe.ModeUpload, name); err != nil {
				return fmt.Errorf("sending request: %w", err)
			}
			logger.Debug("sending file", "bytes", len(data))
			if err := fileframe.SendFile(ep, data); err != nil {
				return fmt.Errorf("sending file: %w", err)
			}
			logger.Info("file sent", "name", name)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "increase output verbosity")
	flags.BoolVarP(&quiet, "quiet", "q", false, "decrease output verbosity")
	flags.StringVarP(&host, "host", "H", defaultHost, "server IP address")
	flags.IntVarP(&port, "port", "p", defaultPort, "server port")
	flags.StringVarP(&src, "src", "s", "", "source file path")
	flags.StringVarP(&name, "name", "n", "", "file name as stored on the server")
	flags.StringVarP(&protocol, "protocol", "r", "go-back-n", "error recovery protocol: go-back-n or stop-and-wait")
	cmd.MarkFlagRequired("src")
	cmd.MarkFlagRequired("name")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseMode(protocol string) (transport.Mode, error) {
	switch protocol {
	case "go-back-n", "GO_BACK_N":
		return transport.GoBackN, nil
	case "stop-and-wait", "STOP_AND_WAIT":
		return transport.StopAndWait, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q: expected go-back-n or stop-and-wait", protocol)
	}
}
