package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errInputClosed = errors.New("input closed before a value was entered")

// prompter reads one answer per line.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in *bufio.Reader, out io.Writer) *prompter {
	return &prompter{in: in, out: out}
}

// ask prints label and returns the trimmed line, or def for an empty line.
func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		_, _ = fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		_, _ = fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if errors.Is(err, io.EOF) && line == "" {
		_, _ = fmt.Fprintln(p.out)
		if def != "" {
			return def, nil
		}
		return "", errInputClosed
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return def, nil
	}
	return line, nil
}
