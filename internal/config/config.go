package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755
	// DefaultEnvFile is loaded from the working directory when no env file is given
	DefaultEnvFile = ".env"
)

var (
	// ConfigDir is the global configuration directory (~/.poolbench)
	ConfigDir string

	// DatabasePath is the SQLite database file for runs and records
	DatabasePath string

	// ConfigFile is the default run configuration file
	ConfigFile string
)

// Initialize sets up the configuration directory
// It creates ~/.poolbench/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".poolbench"))
}

// InitializeAt sets the global paths below dir and creates it
func InitializeAt(dir string) error {
	ConfigDir = dir
	DatabasePath = filepath.Join(ConfigDir, "poolbench.db")
	ConfigFile = filepath.Join(ConfigDir, "config.yaml")

	if err := os.MkdirAll(ConfigDir, DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", ConfigDir, err)
	}
	return nil
}

// LoadEnv loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. An empty path loads .env from
// the working directory and ignores it when missing.
func LoadEnv(path string) error {
	optional := path == ""
	if optional {
		path = DefaultEnvFile
	}
	path, err := ExpandPath(path)
	if err != nil {
		return err
	}

	if err := godotenv.Load(path); err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// ExpandPath expands a leading ~/ to the home directory
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// DefaultConfigExists reports whether ~/.poolbench/config.yaml exists
func DefaultConfigExists() bool {
	if ConfigFile == "" {
		return false
	}
	_, err := os.Stat(ConfigFile)
	return err == nil
}
