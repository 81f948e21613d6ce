// Package shell exposes whitelisted command execution and short Python
// snippets as tools.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"coco/internal/logging"
	"coco/internal/tools"
)

// allowedCommands is the closed whitelist of binaries run_shell may invoke.
// The LLM picks commands freely; anything off this list is rejected before a
// process is spawned.
var allowedCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "wc": true,
	"grep": true, "find": true, "pwd": true, "date": true, "du": true,
	"df": true, "uptime": true, "whoami": true, "which": true, "echo": true,
	"git": true, "curl": true, "ping": true,
}

// maxOutputBytes truncates runaway command output.
const maxOutputBytes = 20000

// Config carries the working directory for spawned processes.
type Config struct {
	Workspace string
}

// RunShellTool executes a single whitelisted command.
func RunShellTool(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "run_shell",
		Description: "Run a whitelisted shell command and return its output",
		Category:    tools.CategoryShell,
		Schema: tools.Schema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command": {Type: "string", Description: "The command line to execute"},
			},
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			command, _ := input["command"].(string)
			fields := strings.Fields(command)
			if len(fields) == 0 {
				return "", fmt.Errorf("%w: empty command", tools.ErrInvalidInput)
			}
			if !allowedCommands[fields[0]] {
				return "", fmt.Errorf("%w: command %q is not whitelisted", tools.ErrExternalFailure, fields[0])
			}

			logging.Tools("run_shell: %s", command)
			cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
			cmd.Dir = cfg.Workspace
			return runCollect(ctx, cmd)
		},
	}
}

// RunPythonSnippetTool runs a short Python snippet through the system
// interpreter. Available only when python3 is on PATH.
func RunPythonSnippetTool(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "run_python_snippet",
		Description: "Execute a short Python snippet and return stdout",
		Category:    tools.CategoryShell,
		Available:   PythonAvailable,
		Schema: tools.Schema{
			Required: []string{"code"},
			Properties: map[string]tools.Property{
				"code": {Type: "string", Description: "Python source to execute"},
			},
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			code, _ := input["code"].(string)
			if strings.TrimSpace(code) == "" {
				return "", fmt.Errorf("%w: empty snippet", tools.ErrInvalidInput)
			}

			// The snippet runs from a temp file so tracebacks carry line
			// numbers.
			tmp, err := os.CreateTemp("", "coco-snippet-*.py")
			if err != nil {
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}
			defer os.Remove(tmp.Name())
			if _, err := tmp.WriteString(code); err != nil {
				tmp.Close()
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}
			tmp.Close()

			logging.Tools("run_python_snippet: %d bytes", len(code))
			cmd := exec.CommandContext(ctx, "python3", tmp.Name())
			cmd.Dir = cfg.Workspace
			return runCollect(ctx, cmd)
		},
	}
}

// PythonAvailable reports whether a python3 interpreter is installed.
func PythonAvailable() bool {
	_, err := exec.LookPath("python3")
	return err == nil
}

func runCollect(ctx context.Context, cmd *exec.Cmd) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n...[truncated]"
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("%w: command timed out", tools.ErrExternalFailure)
		}
		name := filepath.Base(cmd.Path)
		return output, fmt.Errorf("%w: %s: %v", tools.ErrExternalFailure, name, err)
	}
	if output == "" {
		output = "(no output)"
	}
	return output, nil
}

// RegisterAll registers the shell tools.
func RegisterAll(registry *tools.Registry, cfg Config) error {
	for _, tool := range []*tools.Tool{RunShellTool(cfg), RunPythonSnippetTool(cfg)} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
