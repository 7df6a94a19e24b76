package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/registry"
)

// Module is a registry.Module whose methods are local processes.
// It follows a Strict Registry pattern for security (Allow-Listing): only
// registered commands can run and parameters never become command flags.
type Module struct {
	registry map[string]RegisteredProcess
	baseDir  string
}

var _ registry.Module = (*Module)(nil)

// RegisteredProcess defines an allowed command execution.
type RegisteredProcess struct {
	Command string
	Args    []string
	Env     map[string]string
}

// ModuleOption configures the module.
type ModuleOption func(*Module)

// WithProcesses populates the allow-list from a loaded config.
func WithProcesses(procs map[string]ProcessConfig) ModuleOption {
	return func(m *Module) {
		for name, p := range procs {
			m.registry[name] = RegisteredProcess{Command: p.Command, Args: p.Args, Env: p.Environment}
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) ModuleOption {
	return func(m *Module) {
		m.baseDir = dir
	}
}

// NewModule creates a new process module.
func NewModule(opts ...ModuleOption) *Module {
	m := &Module{
		registry: make(map[string]RegisteredProcess),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a trusted command to the allow-list under method.
func (m *Module) Register(method string, command string, args ...string) {
	m.registry[method] = RegisteredProcess{
		Command: command,
		Args:    args,
	}
}

// Methods lists the registered method names.
func (m *Module) Methods() []string {
	names := make([]string, 0, len(m.registry))
	for name := range m.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExitError reports a process that exited with a non-zero status. Its code
// ("EXIT_<status>") can be caught by an error boundary event.
type ExitError struct {
	Method   string
	Status   int
	Stderr   string
	Original error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process %s exited with status %d: %s", e.Method, e.Status, strings.TrimSpace(e.Stderr))
}

func (e *ExitError) Unwrap() error { return e.Original }

// ErrorCode implements domain.CodedError.
func (e *ExitError) ErrorCode() string { return fmt.Sprintf("EXIT_%d", e.Status) }

// Call runs the process registered as method.
//
// Parameters are passed as PROCESS_ARG_<NAME> environment variables, which
// prevents flag injection. Primitives are formatted with %v, everything else
// is JSON encoded. The caller identity is exposed as PROCESS_USER_ID.
// Stdout that looks like JSON is decoded, otherwise it is returned trimmed.
func (m *Module) Call(ctx context.Context, method string, params map[string]any, identity domain.Identity) (any, error) {
	proc, ok := m.registry[method]
	if !ok {
		return nil, fmt.Errorf("%w: process %s is not registered", registry.ErrMethodNotFound, method)
	}

	cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
	cmd.Dir = m.baseDir

	env := []string{"PROCESS_USER_ID=" + identity.UserID}
	for k, v := range proc.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range params {
		env = append(env, fmt.Sprintf("PROCESS_ARG_%s=%s", strings.ToUpper(k), formatArg(v)))
	}
	cmd.Env = append(cmd.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return nil, &ExitError{Method: method, Status: exitErr.ExitCode(), Stderr: stderr.String(), Original: err}
		}
		return nil, fmt.Errorf("execution of %s failed: %w", method, err)
	}

	trimmed := strings.TrimSpace(stdout.String())
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded, nil
		}
	}
	return trimmed, nil
}

func formatArg(v any) string {
	switch v.(type) {
	case string, int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}
