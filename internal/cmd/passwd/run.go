// Package passwd implements the "s3ftp passwd" subcommand, which hashes a
// password for the passwd object.
package passwd

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/s3ftp/s3ftp-go/internal/credentials"
)

// Run reads one password per line from stdin and prints its hash.
func Run(args []string) error {
	return run(args, os.Stdin, os.Stdout)
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
	var hash string
	fs.StringVar(&hash, "hash", "bcrypt", "hash mode: bcrypt|argon2id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode, err := credentials.ParseHashMode(hash)
	if err != nil {
		return err
	}
	if mode == credentials.HashPlain {
		return errors.New("plain mode stores passwords as-is; choose bcrypt or argon2id")
	}

	sc := bufio.NewScanner(stdin)
	n := 0
	for sc.Scan() {
		pw := strings.TrimRight(sc.Text(), "\r")
		if pw == "" {
			continue
		}
		h, err := credentials.HashPassword(mode, pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, h)
		n++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if n == 0 {
		return errors.New("no password on stdin")
	}
	return nil
}
