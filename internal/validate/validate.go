// Package validate holds the pre-I/O argument checks shared by the CLI
// front ends and the transport package itself, grounded on the original
// lib/validations.py: fail fast on a malformed host, port, file path or
// file name before any socket is opened. Recovery modes are checked by
// transport.Mode.Valid, not here.
package validate

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// Host reports whether host resolves to at least one address. An empty
// host is accepted and means "any local address" (net.ListenUDP's default).
func Host(host string) error {
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if _, err := net.LookupHost(host); err != nil {
		return fmt.Errorf("host %q does not resolve: %w", host, err)
	}
	return nil
}

// Port reports whether port falls in the valid TCP/UDP port range.
func Port(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range [1, 65535]", port)
	}
	return nil
}

// SourceFile reports whether path exists, is a regular file, and is
// readable by this process.
func SourceFile(path string) error {
	if path == "" {
		return fmt.Errorf("source file path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("source file %q: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("source file %q is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("source file %q is not readable: %w", path, err)
	}
	f.Close()
	return nil
}

// DestinationDir reports whether dir (or dest's parent, if dest names a
// file) exists and is writable.
func DestinationDir(dest string) error {
	if dest == "" {
		return fmt.Errorf("destination path is empty")
	}
	dir := dest
	if info, err := os.Stat(dest); err == nil && !info.IsDir() {
		dir = parentOf(dest)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("destination directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("destination %q is not a directory", dir)
	}
	probe, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return fmt.Errorf("destination directory %q is not writable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

// FileName reports whether name is a safe, non-empty file name free of
// path separators and "." / "..".
func FileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("file name is empty")
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("file name %q is not allowed", trimmed)
	}
	const invalid = `<>:"|?*\/`
	if strings.ContainsAny(name, invalid) {
		return fmt.Errorf("file name %q contains disallowed characters", name)
	}
	return nil
}

func parentOf(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	if i < 0 {
		return "."
	}
	return path[:i]
}
