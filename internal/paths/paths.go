// Package paths lays out the per-conversation state directory.
package paths

import (
	"os"
	"path/filepath"
)

// EnvHome overrides the base directory (default ~/.chatsync).
const EnvHome = "CHATSYNC_HOME"

// BaseDir returns $CHATSYNC_HOME or ~/.chatsync.
func BaseDir() string {
	if v := os.Getenv(EnvHome); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// Dir returns the conversation-specific directory.
func Dir(conversationID string) string {
	return filepath.Join(BaseDir(), "conversations", conversationID)
}

// DBPath returns the SQLite database path of a conversation.
func DBPath(conversationID string) string {
	return filepath.Join(Dir(conversationID), "chatsync.db")
}

// LogDir returns the log directory of a conversation.
func LogDir(conversationID string) string {
	return filepath.Join(Dir(conversationID), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(conversationID string) string {
	return filepath.Join(LogDir(conversationID), "chatsyncd.log")
}

// SocketPath returns the control socket of a conversation's daemon.
func SocketPath(conversationID string) string {
	return filepath.Join(Dir(conversationID), "daemon.sock")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnvPath returns the optional .env file next to the config.
func EnvPath() string {
	return filepath.Join(BaseDir(), ".env")
}

// EnsureDir creates the conversation directory tree with proper permissions.
func EnsureDir(conversationID string) error {
	for _, d := range []string{Dir(conversationID), LogDir(conversationID)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
