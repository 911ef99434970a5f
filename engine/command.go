package engine

import (
	"fmt"
	"sync"
)

// CommandFunc handles one named management command.
type CommandFunc func(args map[string]string) (string, error)

var (
	commandsMu sync.Mutex
	commands   = make(map[string]CommandFunc)
)

// RegisterCommand installs a management command under name.
func RegisterCommand(name string, fn CommandFunc) error {
	commandsMu.Lock()
	defer commandsMu.Unlock()
	if _, ok := commands[name]; ok {
		return fmt.Errorf("command %q already registered", name)
	}
	commands[name] = fn
	return nil
}

// UnregisterCommand removes a management command.
func UnregisterCommand(name string) {
	commandsMu.Lock()
	delete(commands, name)
	commandsMu.Unlock()
}

// InvokeCommand runs the named command with args.
func InvokeCommand(name string, args map[string]string) (string, error) {
	commandsMu.Lock()
	fn := commands[name]
	commandsMu.Unlock()
	if fn == nil {
		return "", fmt.Errorf("unknown command %q", name)
	}
	return fn(args)
}
