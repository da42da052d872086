package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// stdinReader serves prompts when stdin is not a terminal.
var stdinReader = bufio.NewReader(os.Stdin)

// readLine reads one line from the terminal without echo when echo is
// false, or from stdin otherwise.
func readLine(echo bool) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !echo && term.IsTerminal(fd) {
		line, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)

		return line, err
	}

	line, err := stdinReader.ReadBytes('\n')
	if errors.Is(err, io.EOF) && len(line) > 0 {
		err = nil
	}

	return bytes.TrimSpace(line), err
}

// promptPassword asks for a non empty password, asking for it twice when
// confirm is set until both entries match.
func promptPassword(prefix string, confirm bool) ([]byte, error) {
	for {
		fmt.Fprintf(os.Stderr, "%s: ", prefix)
		pass, err := readLine(false)
		if err != nil {
			return nil, err
		}
		if len(pass) == 0 {
			continue
		}
		if !confirm {
			return pass, nil
		}

		fmt.Fprint(os.Stderr, "Confirm password: ")
		again, err := readLine(false)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(pass, again) {
			fmt.Fprintln(os.Stderr, "The entered passwords do not match")
			continue
		}

		return pass, nil
	}
}

// promptLine asks for one line of input.
func promptLine(prefix string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", prefix)
	line, err := readLine(true)

	return string(line), err
}
