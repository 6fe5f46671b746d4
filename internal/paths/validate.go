package paths

import (
	"fmt"
	"regexp"
)

var idRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_+-]{0,63}$`)

// ValidateConversationID checks that id is safe to use as a directory name.
func ValidateConversationID(id string) error {
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("invalid conversation id %q: must match %s", id, idRegexp)
	}
	return nil
}
