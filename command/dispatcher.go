// Package command dispatches "!name args" chat lines to handlers.
package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Prefix marks a chat line as a command.
const Prefix = "!"

// ErrUnknownCommand is returned for a prefixed line with no handler.
var ErrUnknownCommand = errors.New("unknown command")

// Request is one parsed command line.
type Request struct {
	User string
	Name string
	Args []string
}

// Handler runs a command and returns an optional chat reply.
type Handler func(req Request) (reply string, err error)

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds name (without the prefix, any case) to h.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[strings.ToLower(name)] = h
}

// Names lists registered commands in sorted order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse splits a chat line into a Request. ok is false for plain chat.
func Parse(user, line string) (Request, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, Prefix) {
		return Request{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(line, Prefix))
	if len(fields) == 0 {
		return Request{}, false
	}
	return Request{User: user, Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// Dispatch runs the command in line. handled is false for plain chat. An
// unknown command returns ErrUnknownCommand together with a hint reply.
func (d *Dispatcher) Dispatch(user, line string) (reply string, handled bool, err error) {
	req, ok := Parse(user, line)
	if !ok {
		return "", false, nil
	}

	d.mu.RLock()
	h, exists := d.handlers[req.Name]
	d.mu.RUnlock()

	if !exists {
		names := d.Names()
		for i, n := range names {
			names[i] = Prefix + n
		}
		hint := fmt.Sprintf("unknown command %s%s, try: %s", Prefix, req.Name, strings.Join(names, " "))
		return hint, true, fmt.Errorf("%w: %s", ErrUnknownCommand, req.Name)
	}
	reply, err = h(req)
	return reply, true, err
}
