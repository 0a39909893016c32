package wire

import "strings"

// ErrorKind classifies parse failures.
type ErrorKind int

const (
	// ErrTooLong means the line exceeded MaxLineLength.
	ErrTooLong ErrorKind = iota

	// ErrBadCommand means the command token was not [A-Z]+.
	ErrBadCommand

	// ErrBadUserName means a token starting with @ was not a valid user name.
	ErrBadUserName

	// ErrBadRoomName means a token starting with # was not a valid room name.
	ErrBadRoomName
)

// ParseError describes why a line could not be parsed. Parse failures are a
// protocol condition, not a session-ending one: the server reports them to
// the client as an ERROR message and carries on.
type ParseError struct {
	Kind ErrorKind
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Reply()
}

// Reply is the reason text sent to the client after "ERROR ".
func (e *ParseError) Reply() string {
	switch e.Kind {
	case ErrTooLong:
		return "message too long"
	case ErrBadUserName:
		return "bad format of user name"
	case ErrBadRoomName:
		return "bad format of room name"
	default:
		return "bad format of command"
	}
}

// ParseLine parses a single line, without its trailing newline, into a
// Message.
//
// Grammar, tokens separated by single spaces:
//
//	[#room @user | @user] COMMAND [@user|#room ...] [payload]
//
// Parameter scanning stops at the first token that does not begin with @ or
// #; the rest of the line, spaces and all, is the payload. Every @ or #
// token along the way must be a valid name.
func ParseLine(line string) (Message, *ParseError) {
	if len(line)+1 > MaxLineLength {
		return Message{}, &ParseError{Kind: ErrTooLong}
	}

	var m Message

	tok, rest := nextToken(line)

	// Optional prefix.
	if strings.HasPrefix(tok, "#") {
		room, perr := ParseRoomName(tok)
		if perr != nil {
			return Message{}, perr
		}
		m.Room = room

		tok, rest = nextToken(rest)
		user, perr := ParseUserName(tok)
		if perr != nil {
			return Message{}, perr
		}
		m.User = user

		tok, rest = nextToken(rest)
	} else if strings.HasPrefix(tok, "@") {
		user, perr := ParseUserName(tok)
		if perr != nil {
			return Message{}, perr
		}
		m.User = user

		tok, rest = nextToken(rest)
	}

	if !isValidCommand(tok) {
		return Message{}, &ParseError{Kind: ErrBadCommand}
	}
	m.Command = tok

	// Params, then payload.
	for rest != "" {
		tok, after := nextToken(rest)

		if strings.HasPrefix(tok, "@") {
			if _, perr := ParseUserName(tok); perr != nil {
				return Message{}, perr
			}
		} else if strings.HasPrefix(tok, "#") {
			if _, perr := ParseRoomName(tok); perr != nil {
				return Message{}, perr
			}
		} else {
			m.Payload = rest
			return m, nil
		}

		m.Params = append(m.Params, tok)
		rest = after
	}

	return m, nil
}

// nextToken splits off the token before the first space. The remainder does
// not include the separating space.
func nextToken(s string) (string, string) {
	idx := strings.IndexByte(s, ' ')
	if idx == -1 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}
