package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// StateDirectory returns the directory holding per-listing CLI state.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\Rescale\Gallery\state
//   - Unix: ~/.config/rescale-gallery/state
func StateDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "rescale-gallery-state")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "Rescale", "Gallery", "state")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "rescale-gallery-state")
		}
		return filepath.Join(homeDir, ".config", ConfigDir, "state")
	}
	return filepath.Join(configDir, ConfigDir, "state")
}

// BookmarkPath returns the CSV file storing saved windows and selections.
func BookmarkPath() string {
	return filepath.Join(StateDirectory(), "bookmarks.csv")
}
