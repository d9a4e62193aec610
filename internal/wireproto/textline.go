// Package wireproto implements the two wire formats this system speaks:
// the coordinator's newline-terminated textual command protocol, and the
// peer-service's length-prefixed binary piece transfer.
package wireproto

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// MaxLineLength bounds a single command or response line. The protocol has
// no framing beyond a trailing newline, so a hostile or broken peer sending
// an unterminated stream must not be allowed to grow a buffer without bound.
const MaxLineLength = 64 * 1024

// ErrEmptyLine is returned by ReadCommand when the client sends a blank
// line. It is distinct from io.EOF: the connection is still open and the
// caller should reply with an error and keep reading, not disconnect.
var ErrEmptyLine = errors.New("wireproto: empty command line")

// Command is one whitespace-tokenized coordinator request line: a command
// name followed by zero or more arguments.
type Command struct {
	Name string
	Args []string
}

// ReadCommand reads one line from r and splits it into a Command. It
// returns io.EOF unchanged so callers can distinguish a clean disconnect
// from a protocol error, and ErrEmptyLine for a blank line.
func ReadCommand(r *bufio.Reader) (Command, error) {
	line, err := readLine(r)
	if err != nil {
		return Command{}, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrEmptyLine
	}
	return Command{Name: fields[0], Args: fields[1:]}, nil
}

// WriteLine writes s followed by a single newline.
func WriteLine(w io.Writer, s string) error {
	_, err := fmt.Fprintf(w, "%s\n", s)
	return errors.Wrap(err, "wireproto: write line")
}

// WriteBlock writes a multi-line structured response (e.g. the GROUPS:/
// PENDING REQUESTS:/FILES: listing responses) as a single logical reply: a
// header line, then one line per item, then an empty line that marks the
// end of the block. ReadBlock reads it back.
func WriteBlock(w io.Writer, header string, items []string) error {
	if err := WriteLine(w, header); err != nil {
		return err
	}
	for _, item := range items {
		if err := WriteLine(w, item); err != nil {
			return err
		}
	}
	return WriteLine(w, "")
}

// ReadBlock reads a structured multi-line response: a header line followed
// by item lines, terminated by a blank line. It mirrors WriteBlock.
func ReadBlock(r *bufio.Reader) (header string, items []string, err error) {
	header, err = readLine(r)
	if err != nil {
		return "", nil, err
	}
	for {
		line, err := readLine(r)
		if err != nil {
			return header, items, err
		}
		if line == "" {
			return header, items, nil
		}
		items = append(items, line)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	chunk, err := r.ReadSlice('\n')
	for err == bufio.ErrBufferFull && len(buf) <= MaxLineLength {
		buf = append(buf, chunk...)
		chunk, err = r.ReadSlice('\n')
	}
	if err == bufio.ErrBufferFull {
		return "", errors.New("wireproto: line exceeds maximum length")
	}
	line := string(append(buf, chunk...))
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	if len(line) > MaxLineLength {
		return "", errors.New("wireproto: line exceeds maximum length")
	}
	return strings.TrimRight(line, "\r\n"), nil
}
