package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fsbk/internal/toolrun"
)

// writePasswordFile hands the password to gpg through a private file channel
// instead of argv or the environment, where other users could read it. The
// file lives in a fresh 0700 directory with 0600 permissions; the returned
// cleanup removes the whole directory and must run on every exit path.
func writePasswordFile(password string) (string, func(), error) {
	if password == "" {
		return "", nil, ErrMissingPassword
	}

	dir, err := os.MkdirTemp("", "fsbk-secret-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create secret directory: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		os.RemoveAll(dir)
		return "", nil, fmt.Errorf("failed to restrict secret directory: %w", err)
	}

	path := filepath.Join(dir, "passphrase")
	if err := os.WriteFile(path, []byte(password), 0o600); err != nil {
		os.RemoveAll(dir)
		return "", nil, fmt.Errorf("failed to write secret file: %w", err)
	}

	cleanup := func() { os.RemoveAll(dir) }
	return path, cleanup, nil
}

// classifyCipherError distinguishes "wrong password" from a generally failed
// decryption so the operator can be told whether retyping will help.
func classifyCipherError(err error) error {
	var toolErr *toolrun.ToolError
	if !errors.As(err, &toolErr) {
		return err
	}
	stderr := strings.ToLower(toolErr.Stderr)
	if strings.Contains(stderr, "bad session key") ||
		strings.Contains(stderr, "decryption failed") ||
		strings.Contains(stderr, "bad passphrase") {
		return fmt.Errorf("%w: %v", ErrWrongPassword, toolErr)
	}
	return err
}

