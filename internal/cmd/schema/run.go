// Package schema implements the "s3ftp schema" subcommand.
package schema

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/s3ftp/s3ftp-go/internal/config"
)

// Run prints the JSON schema of the configuration file.
func Run(args []string) error {
	return run(args, os.Stdout)
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	out, err := config.Schema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(out))
	return err
}
