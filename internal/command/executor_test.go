package command

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test relies on a POSIX shell")
	}
}

func TestExecutorExecute(t *testing.T) {
	skipOnWindows(t)
	executor := NewExecutor(5*time.Second, zap.NewNop())

	tests := []struct {
		name         string
		request      *Request
		wantExitCode int
		wantOutput   string
		wantSuccess  bool
		wantNotFound bool
	}{
		{
			name:         "argv success",
			request:      &Request{Argv: []string{"echo", "hello"}},
			wantExitCode: 0,
			wantOutput:   "hello",
			wantSuccess:  true,
		},
		{
			name:         "shell success",
			request:      &Request{Command: "echo from-shell", Shell: "sh"},
			wantExitCode: 0,
			wantOutput:   "from-shell",
			wantSuccess:  true,
		},
		{
			name:         "non-zero exit",
			request:      &Request{Command: "echo oops >&2; exit 3"},
			wantExitCode: 3,
			wantOutput:   "oops",
		},
		{
			name:         "missing program",
			request:      &Request{Argv: []string{"definitely-not-a-real-binary-4242"}},
			wantExitCode: 127,
			wantNotFound: true,
		},
		{
			name:         "empty command",
			request:      &Request{Command: "   "},
			wantExitCode: 1,
		},
		{
			name:         "extra environment",
			request:      &Request{Command: "echo $DISTSERVE_TEST_VALUE", Env: []string{"DISTSERVE_TEST_VALUE=42"}},
			wantExitCode: 0,
			wantOutput:   "42",
			wantSuccess:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := executor.Execute(context.Background(), tt.request)
			if response == nil {
				t.Fatal("Expected a response")
			}
			if response.ExitCode != tt.wantExitCode {
				t.Errorf("Expected exit code %d, got %d (error: %s)", tt.wantExitCode, response.ExitCode, response.Error)
			}
			if tt.wantOutput != "" && !strings.Contains(response.Output, tt.wantOutput) {
				t.Errorf("Expected output to contain %q, got %q", tt.wantOutput, response.Output)
			}
			if response.Success() != tt.wantSuccess {
				t.Errorf("Expected Success()=%v, got %v", tt.wantSuccess, response.Success())
			}
			if response.NotFound != tt.wantNotFound {
				t.Errorf("Expected NotFound=%v, got %v", tt.wantNotFound, response.NotFound)
			}
			if response.Duration == "" {
				t.Error("Expected duration to be set")
			}
		})
	}
}

func TestExecutorTimeout(t *testing.T) {
	skipOnWindows(t)
	executor := NewExecutor(time.Minute, nil)

	response := executor.Execute(context.Background(), &Request{
		Argv:    []string{"sleep", "5"},
		Timeout: 100 * time.Millisecond,
	})

	if !response.TimedOut {
		t.Fatalf("Expected command to time out, got %+v", response)
	}
	if response.Success() {
		t.Error("Timed out command should not be successful")
	}
}

func TestGetShellAndFlag(t *testing.T) {
	tests := []struct {
		requested string
		shell     string
		flag      string
	}{
		{"bash", "bash", "-c"},
		{"sh", "sh", "-c"},
		{"zsh", "zsh", "-c"},
		{"cmd", "cmd", "/C"},
		{"powershell", "powershell", "-Command"},
		{"pwsh", "pwsh", "-Command"},
	}

	for _, tt := range tests {
		shell, flag := getShellAndFlag(tt.requested)
		if shell != tt.shell || flag != tt.flag {
			t.Errorf("getShellAndFlag(%q) = (%s, %s), want (%s, %s)", tt.requested, shell, flag, tt.shell, tt.flag)
		}
	}

	for name := range Shells {
		if shell, _ := getShellAndFlag(name); shell != name {
			t.Errorf("accepted shell %q maps to %q", name, shell)
		}
	}

	shell, _ := getShellAndFlag("")
	if runtime.GOOS == "windows" {
		if shell != "cmd" {
			t.Errorf("Expected cmd default on windows, got %s", shell)
		}
	} else if shell != "sh" {
		t.Errorf("Expected sh default, got %s", shell)
	}
}

func TestExecutorRequestedShell(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	executor := NewExecutor(5*time.Second, zap.NewNop())

	response := executor.Execute(context.Background(), &Request{Command: `echo "$BASH_VERSION" | cut -c1`, Shell: "bash"})
	if !response.Success() {
		t.Fatalf("bash command failed: %+v", response)
	}
	if response.Shell != "bash" {
		t.Errorf("Expected shell bash, got %s", response.Shell)
	}
	if strings.TrimSpace(response.Output) == "" {
		t.Errorf("Expected BASH_VERSION to be set under bash")
	}
}
