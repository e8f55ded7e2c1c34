package iocli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Stdio is the IO over the process terminal
type Stdio struct {
	in    *bufio.Reader
	out   io.Writer
	fd    int
	isTTY func(fd int) bool
}

// NewStdio returns the IO over os.Stdin and os.Stdout
func NewStdio() IO {
	return NewStream(os.Stdin, os.Stdout, int(os.Stdin.Fd()))
}

// NewStream returns an IO over in and out. fd is the descriptor of in,
// used to turn echo off for passwords when in is a terminal.
func NewStream(in io.Reader, out io.Writer, fd int) *Stdio {
	return &Stdio{
		in:    bufio.NewReader(in),
		out:   out,
		fd:    fd,
		isTTY: term.IsTerminal,
	}
}

func (s *Stdio) Println(a ...any) {
	_, _ = fmt.Fprintln(s.out, a...)
}

func (s *Stdio) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

func (s *Stdio) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

// ReadInput печатает prompt и читает строку без перевода строки.
// Последняя строка без \n тоже считается вводом
func (s *Stdio) ReadInput(prompt string) (string, error) {
	s.Printf("%s", prompt)
	input, err := s.in.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// ReadPassword читает пароль без эха. Если stdin не терминал (пароль
// передан через pipe), читает обычную строку
func (s *Stdio) ReadPassword(prompt string) (string, error) {
	if !s.isTTY(s.fd) {
		return s.ReadInput(prompt)
	}

	s.Printf("%s", prompt)
	pwBytes, err := term.ReadPassword(s.fd)
	s.Println()
	if err != nil {
		return "", err
	}
	return string(pwBytes), nil
}
