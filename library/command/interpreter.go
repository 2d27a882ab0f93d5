package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"lbms/library"
)

// Executor receives the response of one request. Lines are buffered by
// SendMessage and delivered together on Flush.
type Executor interface {
	SendMessage(line string)
	Flush()
}

// Interpreter parses requests and runs them one at a time.
type Interpreter struct {
	handlers *Handlers
	logger   *slog.Logger

	mu sync.Mutex
}

// NewInterpreter returns an interpreter dispatching to h.
func NewInterpreter(h *Handlers, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Interpreter{handlers: h, logger: logger}
}

// Receive runs line and sends the response unit to out. Blank lines are
// ignored.
func (in *Interpreter) Receive(ctx context.Context, out Executor, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	resp := in.Execute(ctx, line)
	for _, l := range resp.Lines() {
		out.SendMessage(l)
	}
	out.Flush()
}

// Execute runs line and returns its response.
func (in *Interpreter) Execute(ctx context.Context, line string) Response {
	verb, values := Tokenize(line)
	kind, ok := ParseKind(verb)
	if !ok {
		in.logger.Debug("unknown command", "input", line)
		return unknownCommand(line)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	return in.run(ctx, kind, values)
}

func (in *Interpreter) run(ctx context.Context, kind Kind, values []string) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("command panicked", "verb", kind.String(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			resp = internalError(kind.String())
		}
	}()

	h := in.handlers.For(kind)
	params := h.Params()
	if names := missing(params, values); len(names) > 0 {
		return missingParameters(kind.String(), names)
	}
	if len(values) > len(params) {
		values = values[:len(params)]
	}

	resp, err := h.Execute(ctx, Args{params: params, values: values})
	if err == nil {
		in.logger.Debug("command executed", "verb", kind.String(), "args", values)
		return resp
	}
	if de, ok := library.AsDomainError(err); ok {
		return respond(kind.String(), append([]string{string(de.Code)}, de.Details...)...)
	}
	var tm *TypeMismatchError
	if errors.As(err, &tm) {
		return respond(kind.String(), flagTypeMismatch, tm.Param)
	}
	in.logger.Error("command failed", "verb", kind.String(), "error", err)
	return internalError(kind.String())
}
