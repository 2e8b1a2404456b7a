// Package validate checks user/room/list identifiers against the admissible
// character set and validates command argument structs.
package validate

import (
	"unicode"

	"github.com/go-playground/validator/v10"
)

var engine = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// chatname admits any non-control codepoint except ':', '{', '}' and
	// DEL, non-empty.
	_ = engine.RegisterValidation("chatname", func(fl validator.FieldLevel) bool {
		return IsValidName(fl.Field().String())
	})
}

// IsValidName reports whether s is an admissible username/room/list name.
func IsValidName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch r {
		case ':', '{', '}', 0x7F:
			return false
		}
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Struct validates a command argument struct using the "validate" tags,
// including the "chatname" rule registered above.
func Struct(s any) error {
	return engine.Struct(s)
}

// AdmittedRoomListNames are the listName values accepted by Room list operations.
var AdmittedRoomListNames = map[string]bool{
	"userlist":  true,
	"blacklist": true,
	"whitelist": true,
	"adminlist": true,
}

// AdmittedDirectListNames are the listName values accepted by direct
// messaging list operations.
var AdmittedDirectListNames = map[string]bool{
	"blacklist": true,
	"whitelist": true,
}
