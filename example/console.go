package main

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/term"

	"github.com/st-keller/binjatron"
	"github.com/st-keller/binjatron/types"
)

// console is a Host on a terminal. Commands are read a line at a time; a
// confirmation takes a single key press.
type console struct {
	*elfView

	in  *bufio.Reader
	out io.Writer
	tty string

	lines chan string

	mu        sync.Mutex
	answer    chan rune // set while Confirm waits for a key
	listeners []binjatron.EditListener
}

func newConsole(in io.Reader, out io.Writer, tty string, view *elfView) *console {
	c := &console{
		elfView: view,
		in:      bufio.NewReader(in),
		out:     out,
		tty:     tty,
		lines:   make(chan string),
	}
	go c.readInput()
	return c
}

func (c *console) readInput() {
	var line []rune
	for {
		r, _, err := c.in.ReadRune()

		c.mu.Lock()
		answer := c.answer
		c.answer = nil
		c.mu.Unlock()

		if err != nil {
			if answer != nil {
				answer <- 'n'
			}
			close(c.lines)
			return
		}

		if answer != nil {
			answer <- r
			continue
		}

		if r == '\n' {
			c.lines <- string(line)
			line = line[:0]
			continue
		}
		line = append(line, r)
	}
}

func (c *console) RegisterEditNotification(l binjatron.EditListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *console) UnregisterEditNotification(l binjatron.EditListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.listeners {
		if e == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// edit tells the listeners that bytes were changed in the view.
func (c *console) edit(offset types.Address, data []byte) {
	c.mu.Lock()
	listeners := append([]binjatron.EditListener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnHostEdit(offset, len(data), data)
	}
}

func (c *console) Alert(message string) {
	fmt.Fprintf(c.out, "!! %s\n", message)
}

func (c *console) Log(message string) {
	fmt.Fprintf(c.out, "%s\n", message)
}

// Confirm waits for a single key. The terminal is put into cbreak mode so
// that the key arrives without a newline.
func (c *console) Confirm(title, message string) bool {
	answer := make(chan rune, 1)
	c.mu.Lock()
	c.answer = answer
	c.mu.Unlock()

	if t, err := term.Open(c.tty); err == nil {
		defer t.Close()
		if err := t.SetCbreak(); err == nil {
			defer t.Restore()
		}
	}

	fmt.Fprintf(c.out, "%s\n%s [y/n] ", title, message)
	r := <-answer
	fmt.Fprintln(c.out)

	return r == 'y' || r == 'Y'
}
