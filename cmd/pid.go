package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// RunInfo represents the current verification run status
type RunInfo struct {
	PID             int       `json:"pid"`
	StartTime       time.Time `json:"start_time"`
	Sources         []string  `json:"sources"`
	CurrentStage    string    `json:"current_stage"`
	TotalTables     int       `json:"total_tables"`
	CompletedTables int       `json:"completed_tables"`
	LastUpdate      time.Time `json:"last_update"`
}

// GetPIDFilePath returns the path to the PID file
func GetPIDFilePath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".ese-verify", "verify.pid")
}

// GetRunFilePath returns the path to the run info file
func GetRunFilePath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".ese-verify", "current_run.json")
}

// WritePIDFile writes the current process PID to a file
func WritePIDFile() error {
	pidPath := GetPIDFilePath()
	dir := filepath.Dir(pidPath)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	pid := os.Getpid()
	return os.WriteFile(pidPath, []byte(strconv.Itoa(pid)), 0o600)
}

// RemovePIDFile removes the PID file
func RemovePIDFile() error {
	return os.Remove(GetPIDFilePath())
}

// ReadPIDFile reads the PID from file
func ReadPIDFile() (int, error) {
	data, err := os.ReadFile(GetPIDFilePath())
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// IsProcessRunning checks if a process with given PID is running
// Works on both Unix and Windows systems
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix systems, we can send signal 0 to check if process exists
	// On Windows, FindProcess always succeeds, so we need to try to send a signal
	err = process.Signal(syscall.Signal(0))

	// Both systems return an error if the process doesn't exist
	return err == nil
}

// WriteRunInfo writes current run information to file
func WriteRunInfo(info *RunInfo) error {
	runPath := GetRunFilePath()
	dir := filepath.Dir(runPath)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	info.LastUpdate = time.Now()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run info: %w", err)
	}

	return os.WriteFile(runPath, data, 0o600)
}

// ReadRunInfo reads current run information from file
func ReadRunInfo() (*RunInfo, error) {
	data, err := os.ReadFile(GetRunFilePath())
	if err != nil {
		return nil, err
	}

	var info RunInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run info: %w", err)
	}

	return &info, nil
}

// RemoveRunFile removes the run info file
func RemoveRunFile() error {
	return os.Remove(GetRunFilePath())
}
