package certs

import "fmt"

// GenerationError reports a failed certificate generator run
type GenerationError struct {
	Path      string
	Generator string
	ExitCode  int
	Output    string
	TimedOut  bool
	NotFound  bool // The generator program could not be found
	Err       error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("certificate generation with %s failed for %s", e.Generator, e.Path)
	if e.TimedOut {
		msg += " (timed out)"
	} else if e.NotFound {
		msg += " (program not found)"
	} else if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// LoadError reports a certificate file that could not be turned into a TLS
// key pair
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load certificate %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
