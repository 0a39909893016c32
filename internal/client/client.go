// Package client implements the interactive chat client: it connects,
// bridges stdin lines to the server, prints server lines to stdout, and
// answers PINGs on its own.
package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/wire"
)

// Run connects to the server at address and bridges input to output until
// the user quits or the server goes away. input is normally stdin and
// output stdout; they are parameters so tests can drive the client.
func Run(address string, input io.Reader, output io.Writer, log *zap.Logger) error {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "unable to connect to %s", address)
	}
	defer func() {
		_ = conn.Close()
	}()

	log.Info("connected", zap.String("address", address))

	serverLines := readLines(conn)
	inputLines := readLines(input)

	// The first server line must be the greeting.
	greeting, ok := <-serverLines
	if !ok || greeting != "CONNECTED" {
		return errors.Errorf("unexpected greeting from server: %q", greeting)
	}
	fmt.Fprintln(output, greeting)

	registered := false

	for {
		select {
		case line, ok := <-serverLines:
			if !ok {
				fmt.Fprintln(output, "Server disconnected.")
				return nil
			}

			log.Debug("from server", zap.String("line", line))

			if line == "PING" {
				if err := writeLine(conn, "PONG"); err != nil {
					return err
				}
				continue
			}
			if line == "REGISTERED" {
				registered = true
			}

			fmt.Fprintln(output, line)

		case line, ok := <-inputLines:
			if !ok {
				// EOF on input: tell the server we're leaving.
				_ = writeLine(conn, "QUIT")
				return nil
			}

			// Until registered, the server only wants NAME (or QUIT). Catch
			// everything else locally instead of burning a round trip.
			if !registered && !strings.HasPrefix(line, "NAME") && line != "QUIT" {
				fmt.Fprintln(output, "Register first: NAME @yourname")
				continue
			}

			if err := writeLine(conn, line); err != nil {
				return err
			}

			if line == "QUIT" {
				return nil
			}
		}
	}
}

// readLines turns a reader into a channel of lines. The channel closes on
// EOF or error. Lines longer than the protocol cap are passed through
// untruncated; the server answers those with an ERROR.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)

	go func() {
		defer close(ch)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, wire.MaxLineLength), 1024*1024)
		for scanner.Scan() {
			ch <- strings.TrimRight(scanner.Text(), "\r")
		}
	}()

	return ch
}

func writeLine(conn net.Conn, line string) error {
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return errors.Wrap(err, "error writing to server")
	}
	return nil
}
