package wire

// MaxLineLength is the maximum size of a serialized message in bytes,
// including the trailing newline. Lines over this limit are rejected
// before any parse state is allocated.
const MaxLineLength = 1024

// Idents must be between these lengths, not counting the @/# sigil.
const (
	minIdentLength = 2
	maxIdentLength = 19
)

// UserName is a user name token, e.g. "@alice". Comparison is byte-exact.
type UserName string

// RoomName is a room name token, e.g. "#sports". Comparison is byte-exact.
type RoomName string

// ParseUserName validates a user name token: "@" followed by an ident.
func ParseUserName(s string) (UserName, *ParseError) {
	if len(s) == 0 || s[0] != '@' || !isValidIdent(s[1:]) {
		return "", &ParseError{Kind: ErrBadUserName}
	}
	return UserName(s), nil
}

// ParseRoomName validates a room name token: "#" followed by an ident.
func ParseRoomName(s string) (RoomName, *ParseError) {
	if len(s) == 0 || s[0] != '#' || !isValidIdent(s[1:]) {
		return "", &ParseError{Kind: ErrBadRoomName}
	}
	return RoomName(s), nil
}

// isValidIdent checks an ident (the part after the sigil). Idents are 2-19
// bytes of [A-Za-z0-9_-]. No normalization of any kind.
func isValidIdent(s string) bool {
	if len(s) < minIdentLength || len(s) > maxIdentLength {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]

		if c >= 'a' && c <= 'z' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '_' || c == '-' {
			continue
		}

		return false
	}

	return true
}

// isValidCommand checks a command token. Commands are one or more ASCII
// uppercase letters.
func isValidCommand(s string) bool {
	if len(s) == 0 {
		return false
	}

	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}

	return true
}
