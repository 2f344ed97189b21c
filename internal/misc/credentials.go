package misc

import (
	"fmt"
	"path/filepath"
)

// LogSavingCredentials emits a consistent message when persisting auth material.
// Only the destination path is printed; token values never appear in output.
func LogSavingCredentials(path string) {
	if path == "" {
		return
	}
	// Use filepath.Clean so logs remain stable even if callers pass redundant separators.
	fmt.Printf("Saving credentials to %s\n", filepath.Clean(path))
}

// ElideSecret shortens a secret for display, keeping only a short prefix and
// suffix. Empty input stays empty.
func ElideSecret(secret string) string {
	if len(secret) <= 8 {
		if secret == "" {
			return ""
		}
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
