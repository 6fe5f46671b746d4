// Package lock ensures a single synchronizer process per conversation.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file inside a conversation directory.
const FileName = "LOCK"

// HeldError is returned when another process already synchronizes the
// conversation.
type HeldError struct {
	Owner Owner
	Path  string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("conversation %q is already synchronized by PID %d (%s)", e.Owner.ConversationID, e.Owner.PID, e.Path)
}

// Owner is what the holder writes into the lock file.
type Owner struct {
	PID            int
	ConversationID string
	Since          time.Time
}

// Lock is an acquired conversation lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking flock on dir/LOCK.
func Acquire(dir, conversationID string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	path := filepath.Join(dir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		owner, _ := ReadOwner(dir)
		if owner.ConversationID == "" {
			owner.ConversationID = conversationID
		}
		return nil, &HeldError{Owner: owner, Path: path}
	}

	content := fmt.Sprintf("pid=%d\nconversation=%s\ntime=%s\n",
		os.Getpid(), conversationID, time.Now().UTC().Format(time.RFC3339))
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(content), 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadOwner parses the lock file in dir. A missing file yields a zero
// Owner and no error.
func ReadOwner(dir string) (Owner, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return Owner{}, nil
	}
	if err != nil {
		return Owner{}, err
	}
	var o Owner
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "conversation":
			o.ConversationID = value
		case "time":
			o.Since, _ = time.Parse(time.RFC3339, value)
		}
	}
	return o, nil
}
