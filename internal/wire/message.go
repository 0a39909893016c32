// Package wire provides encoding and decoding of chat protocol messages. It
// is useful for implementing clients and servers.
//
// A message is a single line: an optional prefix ("#room @user" or "@user"),
// an uppercase command, zero or more @user/#room parameter tokens, and an
// optional free-text payload, separated by single spaces and terminated by a
// newline. A serialized message is at most MaxLineLength bytes including the
// newline.
package wire

import (
	"fmt"
	"strings"
)

// Message is one protocol message.
type Message struct {
	// Room and User form the optional prefix. A room prefix always carries
	// the acting user ("#sports @alice JOINED"); a user prefix stands alone
	// ("@alice SAID hi"). Both are empty when there is no prefix.
	Room RoomName
	User UserName

	// Command is one or more ASCII uppercase letters.
	Command string

	// Params are the validated @user/#room tokens between the command and
	// the payload, in order.
	Params []string

	// Payload is the free-text remainder of the line. It may contain spaces
	// and any byte except newline. Empty means absent.
	Payload string
}

func (m Message) String() string {
	s, err := m.Encode()
	if err != nil {
		return fmt.Sprintf("(unencodable message %q)", m.Command)
	}
	return strings.TrimSuffix(s, "\n")
}

// Encode encodes the Message into a raw protocol line including the trailing
// newline.
//
// It refuses to encode a message that would exceed MaxLineLength. Such a
// message indicates a bug in the caller, not a protocol condition.
func (m Message) Encode() (string, error) {
	if !isValidCommand(m.Command) {
		return "", fmt.Errorf("invalid command: %q", m.Command)
	}

	var sb strings.Builder

	if m.Room != "" {
		// A room prefix without a user is not part of the grammar.
		if m.User == "" {
			return "", fmt.Errorf("room prefix %s has no user", m.Room)
		}
		sb.WriteString(string(m.Room))
		sb.WriteByte(' ')
	}
	if m.User != "" {
		sb.WriteString(string(m.User))
		sb.WriteByte(' ')
	}

	sb.WriteString(m.Command)

	for _, p := range m.Params {
		sb.WriteByte(' ')
		sb.WriteString(p)
	}

	if m.Payload != "" {
		if strings.IndexByte(m.Payload, '\n') != -1 {
			return "", fmt.Errorf("payload contains a newline")
		}
		sb.WriteByte(' ')
		sb.WriteString(m.Payload)
	}

	sb.WriteByte('\n')

	if sb.Len() > MaxLineLength {
		return "", fmt.Errorf("message is too long to encode: %d bytes", sb.Len())
	}

	return sb.String(), nil
}
