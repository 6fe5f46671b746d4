package paths

import (
	"errors"

	"github.com/matheus3301/chatsync/internal/config"
)

// ErrNoConversation is returned when neither a flag nor the config names a
// conversation.
var ErrNoConversation = errors.New("no conversation given: pass --conversation or set default_conversation")

// Resolve determines the active conversation using precedence:
// 1. flagOverride (--conversation flag)
// 2. config default_conversation
func Resolve(flagOverride string, cfg *config.Config) (string, error) {
	id := flagOverride
	if id == "" && cfg != nil {
		id = cfg.DefaultConversation
	}
	if id == "" {
		return "", ErrNoConversation
	}
	if err := ValidateConversationID(id); err != nil {
		return "", err
	}
	return id, nil
}
