package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Client is anything that can talk to a server: it connects, shows its
// interface until done, receives response messages and disconnects.
type Client interface {
	Connect(s *Server) error
	Display(ctx context.Context) error
	Receive(message string)
	Close() error
}

// TextClient reads request lines from an input stream and writes each
// response message to an output stream.
type TextClient struct {
	in     io.Reader
	out    io.Writer
	prompt bool

	server *Server
	exec   *Executor
}

var _ Client = (*TextClient)(nil)

// NewTextClient prompts only when in is a terminal.
func NewTextClient(in io.Reader, out io.Writer) *TextClient {
	c := &TextClient{in: in, out: out}
	if f, ok := in.(*os.File); ok {
		c.prompt = term.IsTerminal(int(f.Fd()))
	}
	return c
}

func (c *TextClient) Connect(s *Server) error {
	if c.exec != nil {
		return errors.New("client already connected")
	}
	c.server = s
	c.exec = s.Connect(c)
	return nil
}

// Display forwards lines until the input ends or ctx is cancelled.
func (c *TextClient) Display(ctx context.Context) error {
	if c.exec == nil {
		return errors.New("client not connected")
	}
	sc := bufio.NewScanner(c.in)
	for {
		if c.prompt {
			fmt.Fprint(c.out, "> ")
		}
		if !sc.Scan() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.server.Receive(c.exec, sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (c *TextClient) Receive(message string) {
	fmt.Fprintln(c.out, message)
}

func (c *TextClient) Close() error {
	if c.exec == nil {
		return nil
	}
	c.server.Disconnect(c.exec)
	c.exec = nil
	return nil
}
