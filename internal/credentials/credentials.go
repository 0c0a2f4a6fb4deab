package credentials

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Keys holds the access keys the gateway uses to reach the bucket.
type Keys struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Valid reports whether both halves of the key pair are set.
func (k Keys) Valid() bool {
	return k.AccessKeyID != "" && k.SecretAccessKey != ""
}

// ReadKeyFile reads the first ACCESS_KEY:SECRET_KEY[:SESSION_TOKEN] line of
// path. Blank lines and lines starting with '#' are skipped. The file must
// not be accessible by group or others.
func ReadKeyFile(path string) (Keys, error) {
	f, err := os.Open(path)
	if err != nil {
		return Keys{}, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Keys{}, fmt.Errorf("stat key file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return Keys{}, fmt.Errorf("key file %s is accessible by group or others (mode %04o)", path, info.Mode().Perm())
	}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return parseKeyLine(line)
	}
	if err := sc.Err(); err != nil {
		return Keys{}, fmt.Errorf("read key file: %w", err)
	}
	return Keys{}, fmt.Errorf("key file %s holds no keys", path)
}

func parseKeyLine(line string) (Keys, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return Keys{}, fmt.Errorf("invalid key file line, expected ACCESS_KEY:SECRET_KEY[:SESSION_TOKEN]")
	}
	k := Keys{
		AccessKeyID:     strings.TrimSpace(parts[0]),
		SecretAccessKey: strings.TrimSpace(parts[1]),
	}
	if len(parts) == 3 {
		k.SessionToken = strings.TrimSpace(parts[2])
	}
	if !k.Valid() {
		return Keys{}, fmt.Errorf("invalid key file line, empty access or secret key")
	}
	return k, nil
}

// KeysFromEnv reads the standard AWS_* variables. ok is false unless both
// the access and the secret key are set.
func KeysFromEnv() (k Keys, ok bool) {
	k = Keys{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}
	if !k.Valid() {
		return Keys{}, false
	}
	return k, true
}

// ResolveKeys picks static keys: configured, then keyFile when set, then
// the environment. The zero Keys means the SDK's default chain decides.
func ResolveKeys(configured Keys, keyFile string) (Keys, error) {
	if configured.Valid() {
		return configured, nil
	}
	if keyFile != "" {
		return ReadKeyFile(keyFile)
	}
	if k, ok := KeysFromEnv(); ok {
		return k, nil
	}
	return Keys{}, nil
}
