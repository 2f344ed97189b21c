// Package media validates media files before a media tweet is attempted.
// The upload protocol itself is authorized by the OAuth 1.0a credential set
// managed by the auth manager; this package only enforces the platform's
// type and size limits up front, so a doomed upload fails fast and locally.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Platform size limits.
const (
	MaxImageSize = 15 * 1024 * 1024  // 15MB
	MaxVideoSize = 512 * 1024 * 1024 // 512MB
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

var videoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
}

// ValidateFile checks that the file exists, has a supported extension, and
// is within the platform's size limit for its type.
func ValidateFile(path string) error {
	expanded := ExpandPath(path)

	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("media file not found: %s", path)
		}
		return fmt.Errorf("failed to stat media file %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(expanded))
	var maxSize int64
	switch {
	case imageExtensions[ext]:
		maxSize = MaxImageSize
	case videoExtensions[ext]:
		maxSize = MaxVideoSize
	default:
		return fmt.Errorf("unsupported media type %s (supported: jpg, jpeg, png, gif, webp, mp4, mov)", ext)
	}

	if info.Size() > maxSize {
		return fmt.Errorf("media file too large: %s (%.1fMB exceeds %dMB limit)",
			path, float64(info.Size())/(1024*1024), maxSize/(1024*1024))
	}
	return nil
}

// ValidateFiles validates every path and fails on the first problem.
func ValidateFiles(paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no media files given")
	}
	for _, p := range paths {
		if err := ValidateFile(p); err != nil {
			return err
		}
	}
	return nil
}

// ExpandPath expands a leading ~ against the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
