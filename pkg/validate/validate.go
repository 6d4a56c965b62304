// Package validate runs an external validation command against staged
// content before it is committed. The command template carries exactly
// one %s placeholder that receives the staged file path; a non-zero
// exit rejects the content and the destination is left untouched.
package validate

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/arthur-debert/safecopy/pkg/errors"
	"github.com/arthur-debert/safecopy/pkg/logging"
)

// Result holds the output and exit code from a validator run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CheckTemplate verifies the command template up front, before any
// staging work happens.
func CheckTemplate(template string) error {
	if strings.Count(template, "%s") != 1 {
		return errors.Newf(errors.ErrPrecondition, "validate must contain %%s: %s", template)
	}
	return nil
}

// Run executes the validator against stagedPath. It returns the run
// result alongside the error so callers can report captured output
// even on rejection.
func Run(ctx context.Context, template, stagedPath string) (*Result, error) {
	if err := CheckTemplate(template); err != nil {
		return nil, err
	}

	argv, err := splitCommand(fmt.Sprintf(template, stagedPath))
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, errors.Newf(errors.ErrPrecondition, "empty validate command")
	}

	logger := logging.GetLogger("validate")
	logger.Debug().Strs("argv", argv).Msg("Running validator")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	switch {
	case runErr == nil:
		return result, nil
	default:
		var exitErr *exec.ExitError
		if !stderrors.As(runErr, &exitErr) {
			return result, errors.Wrapf(runErr, errors.ErrValidation, "failed to run validator %s", argv[0])
		}
		result.ExitCode = exitErr.ExitCode()
		return result, errors.Newf(errors.ErrValidation, "failed to validate").
			WithDetail("exit_status", result.ExitCode).
			WithDetail("stdout", result.Stdout).
			WithDetail("stderr", result.Stderr)
	}
}

// splitCommand splits a command line into argv, honoring single and
// double quotes. No shell is involved.
func splitCommand(line string) ([]string, error) {
	var argv []string
	var current strings.Builder
	var quote rune
	inWord := false

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				argv = append(argv, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, errors.Newf(errors.ErrPrecondition, "unbalanced quote in validate command: %s", line)
	}
	if inWord {
		argv = append(argv, current.String())
	}
	return argv, nil
}
