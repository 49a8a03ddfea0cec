// Command start-server accepts incoming connections and serves upload and
// download requests against a storage directory.
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
	defaultHost    = "0.0.0.0"
	defaultPort    = 9999
	acceptBacklog  = 16
)

func main() {
	var (
		host    string
		port    int
		storage string
		verbose bool
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "start-server",
		Short: "Serve file uploads and downloads over a reliable UDP transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validate.Host(host); err != nil {
				return err
			}
			if err := validate.Port(port); err != nil {
				return err
			}
			if err := validate.DestinationDir(storage); err != nil {
				return fmt.Errorf("storage directory: %w", err)
			}

			logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "start-server"})
			if quiet {
				logger.SetLevel(log.ErrorLevel)
			} else if verbose {
				logger.SetLevel(log.DebugLevel)
			}

			logger.Info("starting server", "host", host, "port", port, "storage", storage)
			listener, err := transport.Listen(host, port, acceptBacklog)
			if err != nil {
				return fmt.Errorf("binding %s:%d: %w", host, port, err)
			}
			defer listener.Close()

			for {
				conn, err := listener.Accept()
				if err != nil {
					logger.Error("accept failed", "err", err)
					continue
				}
				go handleClient(logger, conn, storage)
			}
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "increase output verbosity")
	flags.BoolVarP(&quiet, "quiet", "q", false, "decrease output verbosity")
	flags.StringVarP(&host, "host", "H", defaultHost, "service IP address")
	flags.IntVarP(&port, "port", "p", defaultPort, "service port")
	flags.StringVarP(&storage, "storage", "s", "", "storage directory path")
	cmd.MarkFlagRequired("storage")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func handleClient(logger *log.Logger, conn *transport.Endpoint, storage string) {
	defer conn.Close()

	mode, name, err := fileframe.RecvRequest(conn)
	if err != nil {
		logger.Error("reading request metadata", "err", err)
		return
	}
	if err := validate.FileName(name); err != nil {
		logger.Error("rejecting request", "err", err)
		return
	}

	switch mode {
	case fileframe.ModeDownload:
		path := filepath.Join(storage, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("file not found", "path", path)
			if sendErr := fileframe.SendNotFound(conn); sendErr != nil {
				logger.Error("sending not-found sentinel", "err", sendErr)
			}
			return
		}
		if err := fileframe.SendFile(conn, data); err != nil {
			logger.Error("sending file", "err", err)
			return
		}
		logger.Info("download served", "name", name, "bytes", len(data))
	case fileframe.ModeUpload:
		data, err := fileframe.RecvFile(conn)
		if err != nil {
			logger.Error("receiving file", "err", err)
			return
		}
		path := filepath.Join(storage, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			logger.Error("writing received file", "err", err)
			return
		}
		logger.Info("upload received", "name", name, "bytes", len(data))
	default:
		logger.Error("unknown client mode", "mode", mode)
	}
}
