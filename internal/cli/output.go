package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/roach88/resgraph/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Path not resolved, error resource reached, round failure
	ExitCommandError = 2 // Command error (bad fixture, database not reachable, etc.)
)

// Error codes reported in CLI responses.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeDatabase      = "E002" // Database open or query failed
	ErrCodeFixture       = "E003" // Fixture could not be read or validated
	ErrCodeLoad          = "E004" // Tree loading or synchronization failed
	ErrCodeNotResolved   = "E005" // Traversed path has no value yet
	ErrCodeResourceError = "E006" // Traversal reached an error resource
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure (1) if the error is not an
// ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

var (
	okLabel    = color.New(color.FgGreen).SprintFunc()
	warnLabel  = color.New(color.FgYellow).SprintFunc()
	errorLabel = color.New(color.FgRed, color.Bold).SprintFunc()
)

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "%s [%s]: %s\n", errorLabel("Error"), code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// RoundSummary is printed after every synchronization round.
type RoundSummary struct {
	Round      int           `json:"round"`
	Root       ir.ResourceID `json:"root"`
	Generation string        `json:"generation"`
	Resources  int           `json:"resources"`
	Loaded     int           `json:"loaded"`
	Missing    int           `json:"missing"`
	Error      string        `json:"error,omitempty"`
}

// OK reports whether the round applied cleanly.
func (r RoundSummary) OK() bool { return r.Error == "" }

func (r RoundSummary) String() string {
	s := fmt.Sprintf("round %d %s generation=%s resources=%d loaded=%d missing=%d",
		r.Round, r.Root, r.Generation, r.Resources, r.Loaded, r.Missing)
	if !r.OK() {
		return fmt.Sprintf("%s %s: %s", s, statusText(false), r.Error)
	}
	return s + " " + statusText(true)
}

// Round outputs one round summary. JSON output is one "ok" response per
// round with the failure, if any, in the payload, so a stream of rounds
// stays parseable line by line. In verbose text output a failed round also
// gets a warning on the diagnostic writer.
func (f *OutputFormatter) Round(summary RoundSummary) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   summary,
		})
	}

	if _, err := fmt.Fprintln(f.Writer, summary); err != nil {
		return err
	}
	if !summary.OK() {
		f.VerboseLog("%s: round %d of %s failed on generation %s",
			warnLabel("warning"), summary.Round, summary.Root, summary.Generation)
	}
	return nil
}

// statusText renders a coloured round status for text output.
func statusText(ok bool) string {
	if !ok {
		return errorLabel("FAIL")
	}
	return okLabel("OK")
}
