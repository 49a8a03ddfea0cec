// Command download retrieves a file from a start-server instance.
package main

import (
	"fmt"
	"os"
	"path/filepath"

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
		host        string
		port        int
		destination string
		name        string
		protocol    string
		verbose     bool
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Retrieve a file from a running start-server into a local destination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validate.Host(host); err != nil {
				return err
			}
			if err := validate.Port(port); err != nil {
				return err
			}
			if err := validate.DestinationDir(destination); err != nil {
				return err
			}
			if err := validate.FileName(name); err != nil {
				return err
			}
			mode, err := parseMode(protocol)
			if err != nil {
				return err
			}

			logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "download"})
			if quiet {
				logger.SetLevel(log.ErrorLevel)
			} else if verbose {
				logger.SetLevel(log.DebugLevel)
			}

			logger.Info("dialing", "host", host, "port", port, "mode", mode)
			ep, err := transport.Dial(host, port, mode)
			if err != nil {
				return fmt.Errorf("connecting to %s:%d: %w", host, port, err)
			}
			defer ep.Close()

			if err := fileframe.SendRequest(ep, fileframe.ModeDownload, name); err != nil {
				return fmt.Errorf("sending request: %w", err)
			}

			data, err := fileframe.RecvFile(ep)
			if err != nil {
				if err == fileframe.ErrRemoteNotFound {
					return fmt.Errorf("server reports %q does not exist", name)
				}
				return fmt.Errorf("receiving file: %w", err)
			}

			outPath := destination
			if info, statErr := os.Stat(destination); statErr == nil && info.IsDir() {
				outPath = filepath.Join(destination, name)
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outPath, err)
			}
			logger.Info("file received", "path", outPath, "bytes", len(data))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "increase output verbosity")
	flags.BoolVarP(&quiet, "quiet", "q", false, "decrease output verbosity")
	flags.StringVarP(&host, "host", "H", defaultHost, "server IP address")
	flags.IntVarP(&port, "port", "p", defaultPort, "server port")
	flags.StringVarP(&destination, "dst", "d", "", "destination file or directory path")
	flags.StringVarP(&name, "name", "n", "", "file name as stored on the server")
	flags.StringVarP(&protocol, "protocol", "r", "go-back-n", "error recovery protocol: go-back-n or stop-and-wait")
	cmd.MarkFlagRequired("dst")
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
