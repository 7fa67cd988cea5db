// Package certs provisions and loads the self-signed certificate used by the
// HTTPS server. The certificate is a single PEM file holding both the private
// key and the certificate.
package certs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/arhuman/distserve/internal/command"
	"github.com/arhuman/distserve/internal/config"
	"github.com/arhuman/distserve/internal/logging"
	"go.uber.org/zap"
)

// Runner executes external programs
type Runner interface {
	Run(ctx context.Context, request *command.Request) *command.Response
}

// Outcome describes what Ensure did
type Outcome int

const (
	// OutcomeExisting means the certificate file was already present and left untouched
	OutcomeExisting Outcome = iota
	// OutcomeGenerated means a new certificate file was written
	OutcomeGenerated
	// OutcomeFailed means generation failed and the failure was ignored
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExisting:
		return "existing"
	case OutcomeGenerated:
		return "generated"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown(" + strconv.Itoa(int(o)) + ")"
	}
}

// ProvisionerConfig holds the fixed generation parameters
type ProvisionerConfig struct {
	Path        string
	Generator   string
	OpenSSLPath string
	OpenSSLArgs []string
	Subject     string
	Days        int
	Timeout     time.Duration
	Strict      bool
	Hosts       []string
	Command     string
	Shell       string // Shell for the command generator, OS default when empty
}

// ProvisionerConfigFrom extracts the certificate settings from the server configuration
func ProvisionerConfigFrom(cfg *config.Config) ProvisionerConfig {
	return ProvisionerConfig{
		Path:        cfg.CertFile,
		Generator:   cfg.Generator,
		OpenSSLPath: cfg.OpenSSLPath,
		OpenSSLArgs: cfg.OpenSSLArgs,
		Subject:     cfg.CertSubject,
		Days:        cfg.CertDays,
		Timeout:     cfg.CertTimeout,
		Strict:      cfg.CertStrict,
		Hosts:       cfg.CertHosts,
		Command:     cfg.CertCommand,
		Shell:       cfg.CertShell,
	}
}

// Provisioner creates the certificate file when it is missing
type Provisioner struct {
	cfg    ProvisionerConfig
	runner Runner
	logger *zap.Logger
}

// NewProvisioner creates a new provisioner. Zero values in cfg fall back to
// the defaults of config.DefaultConfig.
func NewProvisioner(cfg ProvisionerConfig, runner Runner, logger *zap.Logger) *Provisioner {
	defaults := config.DefaultConfig()
	if cfg.Generator == "" {
		cfg.Generator = defaults.Generator
	}
	if cfg.OpenSSLPath == "" {
		cfg.OpenSSLPath = defaults.OpenSSLPath
	}
	if cfg.Subject == "" {
		cfg.Subject = defaults.CertSubject
	}
	if cfg.Days <= 0 {
		cfg.Days = defaults.CertDays
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.CertTimeout
	}
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = defaults.CertHosts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = command.NewExecutor(cfg.Timeout, logger)
	}

	return &Provisioner{
		cfg:    cfg,
		runner: runner,
		logger: logger,
	}
}

// Ensure generates the certificate file if it does not exist. An existing
// file is never touched. Generation failures are logged and ignored unless
// the provisioner is strict, in which case a *GenerationError is returned and
// whatever the failed run left at the path is removed.
func (p *Provisioner) Ensure(ctx context.Context) (Outcome, error) {
	logger, start := logging.FuncLogger(p.logger, "Provisioner.Ensure")
	defer logging.FuncExit(logger, start)

	if p.cfg.Path == "" {
		return OutcomeFailed, errors.New("certificate path is empty")
	}

	_, err := os.Stat(p.cfg.Path)
	if err == nil {
		logger.Debug("Certificate already present", zap.String("path", p.cfg.Path))
		return OutcomeExisting, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return p.fail(logger, &GenerationError{Path: p.cfg.Path, Generator: p.cfg.Generator, Err: err}, false)
	}

	logger.Info("Generating self-signed certificate",
		zap.String("path", p.cfg.Path),
		zap.String("generator", p.cfg.Generator),
		zap.Int("days", p.cfg.Days))

	if genErr := p.generate(ctx); genErr != nil {
		return p.fail(logger, genErr, true)
	}

	// A generator that exits cleanly without producing the file still failed
	if _, err := os.Stat(p.cfg.Path); err != nil {
		return p.fail(logger, &GenerationError{
			Path:      p.cfg.Path,
			Generator: p.cfg.Generator,
			Err:       fmt.Errorf("generator produced no file: %w", err),
		}, false)
	}

	logger.Info("Certificate generated", zap.String("path", p.cfg.Path))
	return OutcomeGenerated, nil
}

// fail applies the strict/lenient policy. attempted is true when the
// generator ran against a path that was absent beforehand.
func (p *Provisioner) fail(logger *zap.Logger, genErr *GenerationError, attempted bool) (Outcome, error) {
	if genErr.NotFound {
		logger.Warn("Certificate generator not found in PATH", zap.String("generator", p.cfg.Generator))
	}
	if !p.cfg.Strict {
		logger.Warn("Certificate generation failed, continuing without it",
			zap.Error(genErr),
			zap.String("output", genErr.Output))
		return OutcomeFailed, nil
	}

	// A partial bundle (openssl writes the key before validating -subj) would
	// pass the existence check on the next run.
	if attempted {
		if err := os.Remove(p.cfg.Path); err == nil {
			logger.Debug("Removed partial certificate file", zap.String("path", p.cfg.Path))
		} else if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove partial certificate file",
				zap.String("path", p.cfg.Path), zap.Error(err))
		}
	}
	return OutcomeFailed, genErr
}

func (p *Provisioner) generate(ctx context.Context) *GenerationError {
	switch p.cfg.Generator {
	case config.GeneratorBuiltin:
		if err := WriteSelfSigned(p.cfg.Path, ParseSubject(p.cfg.Subject), p.cfg.Hosts, p.cfg.Days); err != nil {
			return &GenerationError{Path: p.cfg.Path, Generator: p.cfg.Generator, Err: err}
		}
		return nil
	case config.GeneratorOpenSSL, config.GeneratorCommand:
		return p.runExternal(ctx, p.request())
	default:
		return &GenerationError{
			Path:      p.cfg.Path,
			Generator: p.cfg.Generator,
			Err:       fmt.Errorf("unknown generator %q", p.cfg.Generator),
		}
	}
}

func (p *Provisioner) request() *command.Request {
	if p.cfg.Generator == config.GeneratorCommand {
		return &command.Request{
			Command: p.cfg.Command,
			Shell:   p.cfg.Shell,
			Env: []string{
				"CERT_FILE=" + p.cfg.Path,
				"CERT_SUBJECT=" + p.cfg.Subject,
				"CERT_DAYS=" + strconv.Itoa(p.cfg.Days),
			},
			Timeout: p.cfg.Timeout,
		}
	}
	return &command.Request{
		Argv:    OpenSSLArgs(p.cfg.OpenSSLPath, p.cfg.Path, p.cfg.Subject, p.cfg.Days, p.cfg.OpenSSLArgs...),
		Timeout: p.cfg.Timeout,
	}
}

func (p *Provisioner) runExternal(ctx context.Context, request *command.Request) *GenerationError {
	response := p.runner.Run(ctx, request)
	if response.Success() {
		return nil
	}

	genErr := &GenerationError{
		Path:      p.cfg.Path,
		Generator: p.cfg.Generator,
		ExitCode:  response.ExitCode,
		Output:    response.Output,
		TimedOut:  response.TimedOut,
		NotFound:  response.NotFound,
	}
	if response.Error != "" {
		genErr.Err = errors.New(response.Error)
	}
	return genErr
}

// OpenSSLArgs builds the openssl command line writing key and certificate to
// the same file, without passphrase. extra is appended verbatim.
func OpenSSLArgs(openssl, path, subject string, days int, extra ...string) []string {
	args := []string{
		openssl, "req", "-new", "-x509",
		"-keyout", path,
		"-out", path,
		"-days", strconv.Itoa(days),
		"-nodes",
		"-subj", subject,
	}
	return append(args, extra...)
}
