package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

func writeKeyFile(t *testing.T, body string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s3-keys")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to create test key file: %v", err)
	}
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("Failed to chmod test key file: %v", err)
	}
	return path
}

func TestReadKeyFile(t *testing.T) {
	path := writeKeyFile(t, "# storage keys\n\nTEST_ACCESS_KEY:TEST_SECRET_KEY\nIGNORED:LINE\n", 0o600)

	keys, err := ReadKeyFile(path)
	if err != nil {
		t.Fatalf("Failed to read key file: %v", err)
	}
	want := Keys{AccessKeyID: "TEST_ACCESS_KEY", SecretAccessKey: "TEST_SECRET_KEY"}
	if keys != want {
		t.Errorf("Expected %+v, got %+v", want, keys)
	}
}

func TestReadKeyFileSessionToken(t *testing.T) {
	path := writeKeyFile(t, "AK:SK:TOKEN\n", 0o400)

	keys, err := ReadKeyFile(path)
	if err != nil {
		t.Fatalf("Failed to read key file: %v", err)
	}
	if keys.SessionToken != "TOKEN" {
		t.Errorf("Expected SessionToken 'TOKEN', got '%s'", keys.SessionToken)
	}
}

func TestReadKeyFileRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		perm os.FileMode
	}{
		{"no separator", "INVALID_FORMAT", 0o600},
		{"too many fields", "a:b:c:d", 0o600},
		{"empty secret", "a:", 0o600},
		{"only comments", "# nothing\n", 0o600},
		{"group readable", "a:b", 0o640},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadKeyFile(writeKeyFile(t, tt.body, tt.perm)); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}

	if _, err := ReadKeyFile("/nonexistent/file"); err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}

func TestKeysFromEnv(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "ENV_ACCESS_KEY")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "ENV_SECRET_KEY")
	t.Setenv("AWS_SESSION_TOKEN", "ENV_TOKEN")

	keys, ok := KeysFromEnv()
	if !ok {
		t.Fatal("Expected keys from environment")
	}
	want := Keys{AccessKeyID: "ENV_ACCESS_KEY", SecretAccessKey: "ENV_SECRET_KEY", SessionToken: "ENV_TOKEN"}
	if keys != want {
		t.Errorf("Expected %+v, got %+v", want, keys)
	}

	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	if _, ok := KeysFromEnv(); ok {
		t.Error("Expected no keys without a secret")
	}
}

func TestResolveKeys(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "ENV_AK")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "ENV_SK")
	file := writeKeyFile(t, "FILE_AK:FILE_SK", 0o600)

	keys, err := ResolveKeys(Keys{AccessKeyID: "CFG_AK", SecretAccessKey: "CFG_SK"}, file)
	if err != nil {
		t.Fatalf("ResolveKeys failed: %v", err)
	}
	if keys.AccessKeyID != "CFG_AK" {
		t.Errorf("Expected configured keys first, got '%s'", keys.AccessKeyID)
	}

	keys, err = ResolveKeys(Keys{AccessKeyID: "CFG_AK"}, file)
	if err != nil {
		t.Fatalf("ResolveKeys failed: %v", err)
	}
	if keys.AccessKeyID != "FILE_AK" {
		t.Errorf("Expected half-configured keys to fall through to the file, got '%s'", keys.AccessKeyID)
	}

	keys, err = ResolveKeys(Keys{}, "")
	if err != nil {
		t.Fatalf("ResolveKeys failed: %v", err)
	}
	if keys.AccessKeyID != "ENV_AK" {
		t.Errorf("Expected environment keys, got '%s'", keys.AccessKeyID)
	}

	if _, err := ResolveKeys(Keys{}, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error for missing key file, got nil")
	}

	t.Setenv("AWS_ACCESS_KEY_ID", "")
	keys, err = ResolveKeys(Keys{}, "")
	if err != nil {
		t.Fatalf("ResolveKeys failed: %v", err)
	}
	if keys.Valid() {
		t.Error("Expected empty keys so the SDK default chain applies")
	}
}

func TestKeysValid(t *testing.T) {
	if !(Keys{AccessKeyID: "a", SecretAccessKey: "b"}).Valid() {
		t.Error("Expected full keys to be valid")
	}
	if (Keys{AccessKeyID: "a"}).Valid() {
		t.Error("Expected keys without a secret to be invalid")
	}
	if (Keys{}).Valid() {
		t.Error("Expected empty keys to be invalid")
	}
}
