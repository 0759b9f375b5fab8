package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/mudler/LocalEntity/pkg/xlog"
)

const DefaultTimeout = 30 * time.Second

// Result is the outcome of one sandboxed execution.
type Result struct {
	Success      bool
	Output       string
	Error        string
	ReturnValue  string
	UserMessages []string
	FilesCreated []string
	FilesRead    map[string]string
	TaskEnded    bool
}

// safePackages are the stdlib packages interpreted code may import in safe
// mode. Nothing that reaches the host (os, net, syscalls) is in the list.
var safePackages = map[string]bool{
	"bytes":           true,
	"container/heap":  true,
	"container/list":  true,
	"encoding/base64": true,
	"encoding/json":   true,
	"errors":          true,
	"fmt":             true,
	"math":            true,
	"math/rand":       true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,
}

// sandboxPrelude is evaluated before every snippet. It pre-imports the
// blessed packages and aliases the injected builtins to their short names.
const sandboxPrelude = `import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"sandbox"
)

var sayToUser = sandbox.SayToUser
var createFile = sandbox.CreateFile
var readFile = sandbox.ReadFile

var _ = json.Marshal
var _ = fmt.Sprint
var _ = math.Pi
var _ = rand.Int
var _ = regexp.MustCompile
var _ = sort.Strings
var _ = strconv.Itoa
var _ = strings.TrimSpace
var _ = time.Now
`

// Executor interprets model-produced Go snippets. File access is confined to
// the sandbox directory and the injected builtins are the only side channels
// back to the runtime.
type Executor struct {
	sandboxPath    string
	outputCallback func(string)
	unsafe         bool
	timeout        time.Duration
	logger         *slog.Logger
}

type Option func(*Executor)

func WithSandboxPath(dir string) Option {
	return func(e *Executor) { e.sandboxPath = dir }
}

func WithOutputCallback(fn func(text string)) Option {
	return func(e *Executor) { e.outputCallback = fn }
}

// WithUnsafeMode lifts the package restrictions. Only for trusted setups.
func WithUnsafeMode(unsafe bool) Option {
	return func(e *Executor) { e.unsafe = unsafe }
}

func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func New(opts ...Option) (*Executor, error) {
	e := &Executor{
		sandboxPath: "./sandbox",
		timeout:     DefaultTimeout,
		logger:      xlog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := os.MkdirAll(e.sandboxPath, 0755); err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}

	e.logger.Debug("sandbox initialized", "path", e.sandboxPath)
	return e, nil
}

// SandboxPath returns the directory file operations are rooted in.
func (e *Executor) SandboxPath() string {
	return e.sandboxPath
}

// SetOutputCallback replaces the sink receiving sayToUser messages.
func (e *Executor) SetOutputCallback(fn func(text string)) {
	e.outputCallback = fn
}

// runState collects the side effects of a single execution. A fresh one per
// run keeps state from leaking across executions.
type runState struct {
	e            *Executor
	userMessages []string
	filesCreated []string
	filesRead    map[string]string
}

func (r *runState) sayToUser(text string) {
	r.userMessages = append(r.userMessages, text)
	if r.e.outputCallback != nil {
		r.e.outputCallback(text)
	}
	r.e.logger.Info("say_to_user", "text", text)
}

func (r *runState) createFile(name, content string) (string, error) {
	path := filepath.Join(r.e.sandboxPath, filepath.Base(name))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	r.filesCreated = append(r.filesCreated, path)
	r.e.logger.Debug("file created", "path", path)
	return path, nil
}

func (r *runState) readFile(name string) (string, error) {
	path := filepath.Join(r.e.sandboxPath, filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", name)
		}
		return "", err
	}
	r.filesRead[path] = string(data)
	r.e.logger.Debug("file read", "path", path)
	return string(data), nil
}

func (e *Executor) newInterpreter(run *runState, stdout, stderr *bytes.Buffer) (*interp.Interpreter, error) {
	i := interp.New(interp.Options{
		Unrestricted: e.unsafe,
		Stdout:       stdout,
		Stderr:       stderr,
	})

	var symbols interp.Exports = stdlib.Symbols
	if !e.unsafe {
		symbols = restrictedSymbols()
	}
	if err := i.Use(symbols); err != nil {
		return nil, err
	}

	if err := i.Use(interp.Exports{
		"sandbox/sandbox": {
			"SayToUser":  reflect.ValueOf(run.sayToUser),
			"CreateFile": reflect.ValueOf(run.createFile),
			"ReadFile":   reflect.ValueOf(run.readFile),
		},
	}); err != nil {
		return nil, err
	}

	if _, err := i.Eval(sandboxPrelude); err != nil {
		return nil, err
	}
	return i, nil
}

func restrictedSymbols() interp.Exports {
	restricted := interp.Exports{}
	for key, symbols := range stdlib.Symbols {
		path := key
		if idx := strings.LastIndex(key, "/"); idx >= 0 {
			path = key[:idx]
		}
		if safePackages[path] {
			restricted[key] = symbols
		}
	}
	return restricted
}

// Execute runs a snippet and reports everything it did. The interpreter is
// rebuilt per call so definitions never survive between runs.
func (e *Executor) Execute(ctx context.Context, code string) Result {
	run := &runState{e: e, filesRead: map[string]string{}}
	var stdout, stderr bytes.Buffer

	i, err := e.newInterpreter(run, &stdout, &stderr)
	if err != nil {
		return Result{Error: fmt.Sprintf("initializing interpreter: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	v, err := e.eval(ctx, i, code)

	result := Result{
		Output:       stdout.String(),
		UserMessages: run.userMessages,
		FilesCreated: run.filesCreated,
		FilesRead:    run.filesRead,
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			result.Error = fmt.Sprintf("execution timed out after %s", e.timeout)
			e.logger.Warn("execution timed out", "timeout", e.timeout)
			return result
		}
		result.Error = err.Error()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			result.Error += "\n" + msg
		}
		e.logger.Debug("execution failed", "error", result.Error)
		return result
	}

	result.Success = true
	result.TaskEnded = len(run.userMessages) > 0
	if v.IsValid() && v.CanInterface() {
		result.ReturnValue = fmt.Sprintf("%v", v.Interface())
	}
	return result
}

func (e *Executor) eval(ctx context.Context, i *interp.Interpreter, src string) (v reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in sandboxed code: %v", r)
		}
	}()
	return i.EvalWithContext(ctx, src)
}

// SandboxFiles lists the files currently in the sandbox directory.
func (e *Executor) SandboxFiles() ([]string, error) {
	entries, err := os.ReadDir(e.sandboxPath)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, filepath.Join(e.sandboxPath, entry.Name()))
		}
	}
	return files, nil
}

// ClearSandbox removes every file from the sandbox directory.
func (e *Executor) ClearSandbox() error {
	entries, err := os.ReadDir(e.sandboxPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(e.sandboxPath, entry.Name())); err != nil {
			return err
		}
	}
	e.logger.Debug("sandbox cleared")
	return nil
}
