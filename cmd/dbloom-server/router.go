package main

import (
	"io"
	"strings"
)

// CommandHandler handles one command. args excludes the command name.
// Replies go to w, which is the connection's buffered writer, or io.Discard
// while the journal is being replayed.
type CommandHandler func(w io.Writer, args []string)

// Router maps upper-case command names to handlers.
type Router struct {
	handlers map[string]CommandHandler
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]CommandHandler),
	}
}

// Handle registers handler under name. Names are case-insensitive.
func (r *Router) Handle(name string, handler CommandHandler) {
	r.handlers[strings.ToUpper(name)] = handler
}

// Dispatch runs the handler for parts[0], or answers with an unknown command
// error.
func (r *Router) Dispatch(app *application, w io.Writer, parts []string) {
	if len(parts) == 0 {
		return
	}

	app.metrics.TotalCommands.Add(1)

	commandName := strings.ToUpper(parts[0])
	args := parts[1:]

	handler, found := r.handlers[commandName]
	if !found {
		app.metrics.observeCommand("unknown")
		app.unknownCommandResponse(w, commandName)
		return
	}

	app.metrics.observeCommand(commandName)
	handler(w, args)
}
