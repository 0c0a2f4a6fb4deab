// Command s3ftp serves an S3 bucket over FTP, SFTP and WebDAV.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/s3ftp/s3ftp-go/internal/cmd/mount"
	"github.com/s3ftp/s3ftp-go/internal/cmd/passwd"
	"github.com/s3ftp/s3ftp-go/internal/cmd/schema"
	"github.com/s3ftp/s3ftp-go/internal/cmd/server"
	"github.com/s3ftp/s3ftp-go/internal/version"
)

func main() {
	if err := run(os.Args, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// run dispatches argv to a subcommand. Missing or unknown subcommands print
// the usage line and fail.
func run(argv []string, stdout, stderr io.Writer) error {
	if len(argv) < 2 {
		usage(stderr)
		return fmt.Errorf("missing subcommand")
	}

	switch argv[1] {
	case "server":
		return server.Run(argv[2:])
	case "mount":
		return mount.Run(argv[2:])
	case "passwd":
		return passwd.Run(argv[2:])
	case "schema":
		return schema.Run(argv[2:])
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "s3ftp %s\n", version.Version)
		return nil
	case "-h", "--help", "help":
		usage(stderr)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown subcommand: %s", argv[1])
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "s3ftp <server|mount|passwd|schema|version> [flags]")
}
