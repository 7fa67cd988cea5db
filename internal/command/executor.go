// Package command runs external programs on behalf of distserve.
package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"fortio.org/sets"
	"go.uber.org/zap"
)

// Request describes an external program invocation. Argv takes precedence;
// when it is empty, Command is handed to a shell.
type Request struct {
	Argv    []string
	Command string
	Shell   string        // Optional: sh, bash, zsh, cmd, powershell, pwsh
	Env     []string      // Appended to the current environment
	Timeout time.Duration // Zero means the executor default
}

// Response represents the outcome of a Request
type Response struct {
	Command  string
	Shell    string
	ExitCode int
	Output   string
	Error    string
	Duration string
	TimedOut bool
	NotFound bool // The program (or shell) is not installed
}

// Success reports whether the program ran and exited with status 0.
func (r *Response) Success() bool {
	return r.ExitCode == 0 && r.Error == ""
}

// Executor runs external programs with a timeout
type Executor struct {
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// NewExecutor creates a new executor
func NewExecutor(defaultTimeout time.Duration, logger *zap.Logger) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Run implements the runner contract used by the certificate provisioner.
func (e *Executor) Run(ctx context.Context, request *Request) *Response {
	return e.Execute(ctx, request)
}

// Execute runs the request and returns its response. It never returns nil;
// failures to start the program are reported through Response.Error.
func (e *Executor) Execute(ctx context.Context, request *Request) *Response {
	startTime := time.Now()

	response := &Response{}

	timeout := e.defaultTimeout
	if request.Timeout > 0 {
		timeout = request.Timeout
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var execCmd *exec.Cmd
	if len(request.Argv) > 0 {
		response.Command = strings.Join(request.Argv, " ")
		execCmd = exec.CommandContext(cmdCtx, request.Argv[0], request.Argv[1:]...)
	} else {
		response.Command = request.Command
		if strings.TrimSpace(request.Command) == "" {
			response.ExitCode = 1
			response.Error = "empty command"
			response.Duration = time.Since(startTime).String()
			return response
		}
		shell, flag := getShellAndFlag(request.Shell)
		response.Shell = shell
		execCmd = exec.CommandContext(cmdCtx, shell, flag, request.Command)
	}

	if len(request.Env) > 0 {
		execCmd.Env = append(os.Environ(), request.Env...)
	}

	output, err := execCmd.CombinedOutput()
	response.Duration = time.Since(startTime).String()
	response.Output = string(output)

	if err != nil {
		response.ExitCode = 1

		var exitErr *exec.ExitError
		switch {
		case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
			response.TimedOut = true
			response.Error = fmt.Sprintf("command timed out after %v", timeout)
		case errors.Is(err, exec.ErrNotFound):
			response.ExitCode = 127
			response.NotFound = true
			response.Error = err.Error()
		case errors.As(err, &exitErr):
			response.ExitCode = exitErr.ExitCode()
			response.Error = err.Error()
		default:
			response.Error = err.Error()
		}
	}

	e.logger.Debug("External command executed",
		zap.String("command", response.Command),
		zap.String("shell", response.Shell),
		zap.Int("exit_code", response.ExitCode),
		zap.String("duration", response.Duration),
		zap.Bool("timed_out", response.TimedOut))

	return response
}

// Shells is the set of shell names understood by Request.Shell
var Shells = sets.New("sh", "bash", "zsh", "cmd", "powershell", "pwsh")

// getShellAndFlag returns the appropriate shell and flag for the OS and requested shell
func getShellAndFlag(requestedShell string) (string, string) {
	switch requestedShell {
	case "bash":
		return "bash", "-c"
	case "sh":
		return "sh", "-c"
	case "zsh":
		return "zsh", "-c"
	case "cmd":
		return "cmd", "/C"
	case "powershell":
		return "powershell", "-Command"
	case "pwsh":
		return "pwsh", "-Command"
	}

	if runtime.GOOS == "windows" {
		return "cmd", "/C"
	}
	return "sh", "-c"
}
