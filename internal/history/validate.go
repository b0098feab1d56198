package history

import (
	"fmt"
	"unicode/utf8"
)

const (
	// MaxBodyBytes is the maximum encoded size of a message body.
	MaxBodyBytes = 4096

	// MaxBodyChars is the maximum character count of a message body.
	MaxBodyChars = 2000
)

// ValidateBody checks that a message body meets content requirements before
// it is accepted into a log or delivered privately.
func ValidateBody(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message body is empty")
	}
	if len(text) > MaxBodyBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxBodyBytes)
	}
	if utf8.RuneCountInString(text) > MaxBodyChars {
		return fmt.Errorf("message exceeds %d character limit", MaxBodyChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
