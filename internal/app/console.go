package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Console is the line-oriented terminal shared by the run loop and the
// login and onboarding questions asked in the middle of a turn.
type Console struct {
	in       *bufio.Scanner
	secretFD int
	secret   bool

	mu  sync.Mutex
	out io.Writer
}

// NewConsole reads lines from in and writes to out. Secrets are read without
// echo when in is a terminal.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{in: bufio.NewScanner(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.secretFD = int(f.Fd())
		c.secret = true
	}
	return c
}

// ReadLine prints prompt and returns the next line without its newline.
// io.EOF is returned once the input is exhausted.
func (c *Console) ReadLine(prompt string) (string, error) {
	c.print(prompt)
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(c.in.Text(), "\r"), nil
}

func (c *Console) Ask(_ context.Context, prompt string) (string, error) {
	return c.ReadLine(prompt)
}

func (c *Console) AskSecret(_ context.Context, prompt string) (string, error) {
	if !c.secret {
		return c.ReadLine(prompt)
	}
	c.print(prompt)
	b, err := term.ReadPassword(c.secretFD)
	c.print("\n")
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(b), nil
}

// Say prints msg on its own line.
func (c *Console) Say(msg string) {
	c.print(msg + "\n")
}

// Write lets replies be streamed straight to the console.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *Console) print(s string) {
	_, _ = io.WriteString(c, s)
}
