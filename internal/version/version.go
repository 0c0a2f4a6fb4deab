// Package version holds the build version, set with
// -ldflags "-X github.com/s3ftp/s3ftp-go/internal/version.Version=v1.2.3".
package version

var Version = "dev"
