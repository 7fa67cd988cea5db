package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fortio.org/sets"
	"github.com/arhuman/distserve/internal/command"
	"github.com/google/shlex"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Certificate generators understood by the provisioner
const (
	GeneratorOpenSSL = "openssl"
	GeneratorBuiltin = "builtin"
	GeneratorCommand = "command"
)

// Generators is the set of valid CERT_GENERATOR values
var Generators = sets.New(GeneratorOpenSSL, GeneratorBuiltin, GeneratorCommand)

// DefaultCertSubject carries the organization fields passed to openssl
const DefaultCertSubject = "/C=US/ST=Development/L=Localhost/O=distserve/OU=Development/CN=localhost"

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for %s=%s: %s", e.Field, e.Value, e.Message)
}

// ConfigLoader provides unified configuration loading with priority handling
type ConfigLoader struct {
	envVars map[string]string
	logger  *zap.Logger
	output  io.Writer // Flag usage and parse errors, os.Stderr when nil
}

// NewConfigLoader creates a new configuration loader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		envVars: make(map[string]string),
	}
}

// WithLogger sets the logger for the config loader
func (cl *ConfigLoader) WithLogger(logger *zap.Logger) *ConfigLoader {
	cl.logger = logger
	return cl
}

// WithOutput sets where flag usage and parse errors are written
func (cl *ConfigLoader) WithOutput(w io.Writer) *ConfigLoader {
	cl.output = w
	return cl
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file. A missing file is
// not an error.
func (cl *ConfigLoader) LoadEnvFile(filename string) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		if cl.logger != nil {
			cl.logger.Debug("Environment file not found", zap.String("file", filename))
		}
		return nil
	}

	vars, err := godotenv.Read(filename)
	if err != nil {
		return fmt.Errorf("error reading env file %s: %w", filename, err)
	}
	for key, value := range vars {
		cl.envVars[key] = value
	}

	if cl.logger != nil {
		cl.logger.Debug("Loaded environment file",
			zap.String("file", filename),
			zap.Int("variables", len(vars)))
	}

	return nil
}

// GetString gets string value with priority: env → file → default
func (cl *ConfigLoader) GetString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	if value, exists := cl.envVars[key]; exists {
		return value
	}

	return defaultValue
}

// GetInt gets int value with validation
func (cl *ConfigLoader) GetInt(key string, defaultValue int) (int, error) {
	value := cl.GetString(key, "")
	if value == "" {
		return defaultValue, nil
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return 0, ValidationError{
			Field:   key,
			Value:   value,
			Message: "must be a valid integer",
		}
	}

	return intVal, nil
}

// GetIntInRange gets int value with range validation
func (cl *ConfigLoader) GetIntInRange(key string, defaultValue, min, max int) (int, error) {
	value, err := cl.GetInt(key, defaultValue)
	if err != nil {
		return 0, err
	}

	if value < min || value > max {
		return 0, ValidationError{
			Field:   key,
			Value:   strconv.Itoa(value),
			Message: fmt.Sprintf("must be between %d and %d", min, max),
		}
	}

	return value, nil
}

// GetBool gets bool value with validation
func (cl *ConfigLoader) GetBool(key string, defaultValue bool) (bool, error) {
	value := cl.GetString(key, "")
	if value == "" {
		return defaultValue, nil
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return false, ValidationError{
			Field:   key,
			Value:   value,
			Message: "must be true/false or 1/0",
		}
	}

	return boolVal, nil
}

// GetDuration gets duration value with validation
func (cl *ConfigLoader) GetDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := cl.GetString(key, "")
	if value == "" {
		return defaultValue, nil
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration, nil
	}

	// Plain numbers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, ValidationError{
		Field:   key,
		Value:   value,
		Message: "must be a valid duration (e.g., '10s', '5m') or number of seconds",
	}
}

// GetList splits a comma separated value, dropping blanks and duplicates
func (cl *ConfigLoader) GetList(key string, defaultValue []string) []string {
	value := cl.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	return splitList(value)
}

func splitList(value string) []string {
	seen := sets.New[string]()
	var items []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" || seen.Has(item) {
			continue
		}
		seen.Add(item)
		items = append(items, item)
	}
	return items
}

// ValidateRequired ensures a required field is not empty
func (cl *ConfigLoader) ValidateRequired(key, value string) error {
	if value == "" {
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: "is required and cannot be empty",
		}
	}
	return nil
}

// ValidateGenerator ensures the generator name is one the provisioner knows
func (cl *ConfigLoader) ValidateGenerator(key, value string) error {
	if !Generators.Has(value) {
		return ValidationError{
			Field:   key,
			Value:   value,
			Message: fmt.Sprintf("must be one of %s", strings.Join(sets.Sort(Generators), ", ")),
		}
	}
	return nil
}

// Config holds configuration for the distserve HTTPS server
type Config struct {
	Port        int    // TCP port, bound on all interfaces
	Dir         string // Directory served over HTTPS
	CertFile    string // Combined PEM key+certificate
	Generator   string // openssl, builtin or command
	OpenSSLPath string
	OpenSSLArgs []string // Extra arguments appended to the openssl command line
	CertSubject string
	CertDays    int
	CertTimeout time.Duration
	CertStrict  bool     // Fail startup when certificate generation fails
	CertHosts   []string // SANs for the builtin generator
	CertCommand string   // Shell command for the command generator
	CertShell   string   // Shell running CertCommand, OS default when empty
	Debug       bool
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Port:        8443,
		Dir:         "dist",
		CertFile:    "", // Derived from Dir when empty
		Generator:   GeneratorOpenSSL,
		OpenSSLPath: "openssl",
		CertSubject: DefaultCertSubject,
		CertDays:    365,
		CertTimeout: 60 * time.Second,
		CertStrict:  false,
		CertHosts:   []string{"localhost", "127.0.0.1"},
		Debug:       false,
	}
}

// DefaultCertFile returns the certificate location for a served directory:
// server.pem one level above it.
func DefaultCertFile(dir string) string {
	return filepath.Join(dir, "..", "server.pem")
}

// LoadConfig loads configuration from .env, the environment and args (without
// the program name), validating everything and reporting all problems at once.
func LoadConfig(args []string) (*Config, error) {
	// Diagnostics logger for configuration loading, before the real one exists
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	return LoadConfigWithLoader(NewConfigLoader().WithLogger(logger), ".env", args)
}

// LoadConfigWithLoader is LoadConfig with an explicit loader and env file
func LoadConfigWithLoader(loader *ConfigLoader, envFile string, args []string) (*Config, error) {
	if err := loader.LoadEnvFile(envFile); err != nil {
		return nil, fmt.Errorf("failed to load environment file: %w", err)
	}

	config := DefaultConfig()
	var validationErrors []error

	// Allow 0 for system-assigned port
	if port, err := loader.GetIntInRange("DISTSERVE_PORT", config.Port, 0, 65535); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.Port = port
	}

	config.Dir = loader.GetString("DISTSERVE_DIR", config.Dir)
	config.CertFile = loader.GetString("CERT_FILE", config.CertFile)
	config.Generator = loader.GetString("CERT_GENERATOR", config.Generator)
	config.OpenSSLPath = loader.GetString("OPENSSL_PATH", config.OpenSSLPath)
	config.CertSubject = loader.GetString("CERT_SUBJECT", config.CertSubject)
	config.CertCommand = loader.GetString("CERT_COMMAND", config.CertCommand)
	config.CertShell = loader.GetString("CERT_SHELL", config.CertShell)

	if extra := loader.GetString("CERT_OPENSSL_ARGS", ""); extra != "" {
		if extraArgs, err := shlex.Split(extra); err != nil {
			validationErrors = append(validationErrors, ValidationError{
				Field:   "CERT_OPENSSL_ARGS",
				Value:   extra,
				Message: err.Error(),
			})
		} else {
			config.OpenSSLArgs = extraArgs
		}
	}
	config.CertHosts = loader.GetList("CERT_HOSTS", config.CertHosts)

	if days, err := loader.GetIntInRange("CERT_DAYS", config.CertDays, 1, 3650); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.CertDays = days
	}

	if timeout, err := loader.GetDuration("CERT_TIMEOUT", config.CertTimeout); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.CertTimeout = timeout
	}

	if strict, err := loader.GetBool("CERT_STRICT", config.CertStrict); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.CertStrict = strict
	}

	if debug, err := loader.GetBool("DEBUG", config.Debug); err != nil {
		validationErrors = append(validationErrors, err)
	} else {
		config.Debug = debug
	}

	// Command line flags (highest priority)
	fs := flag.NewFlagSet("distserve", flag.ContinueOnError)
	if loader.output != nil {
		fs.SetOutput(loader.output)
	}
	port := fs.Int("port", config.Port, "Port to listen on (all interfaces)")
	dir := fs.String("dir", config.Dir, "Directory to serve")
	certFile := fs.String("cert", config.CertFile, "Combined PEM key+certificate file (derived from -dir: <dir>/../server.pem)")
	generator := fs.String("generator", config.Generator, "Certificate generator: openssl, builtin or command")
	openssl := fs.String("openssl", config.OpenSSLPath, "Path to the openssl binary")
	strict := fs.Bool("strict-cert", config.CertStrict, "Fail startup when certificate generation fails")
	debug := fs.Bool("debug", config.Debug, "Enable debug mode")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	if fs.NArg() > 0 {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "args",
			Value:   strings.Join(fs.Args(), " "),
			Message: "unexpected positional arguments",
		})
	}

	if *port < 0 || *port > 65535 {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "port",
			Value:   strconv.Itoa(*port),
			Message: "must be between 0 and 65535 (0 for system-assigned)",
		})
	} else {
		config.Port = *port
	}

	config.Dir = *dir
	config.CertFile = *certFile
	config.Generator = *generator
	config.OpenSSLPath = *openssl
	config.CertStrict = *strict
	config.Debug = *debug

	if err := loader.ValidateRequired("dir", config.Dir); err != nil {
		validationErrors = append(validationErrors, err)
	}

	if config.CertFile == "" && config.Dir != "" {
		config.CertFile = DefaultCertFile(config.Dir)
	}

	if err := loader.ValidateGenerator("generator", config.Generator); err != nil {
		validationErrors = append(validationErrors, err)
	}

	if config.Generator == GeneratorCommand {
		if err := loader.ValidateRequired("CERT_COMMAND", config.CertCommand); err != nil {
			validationErrors = append(validationErrors, err)
		}
	}

	if config.CertShell != "" && !command.Shells.Has(config.CertShell) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "CERT_SHELL",
			Value:   config.CertShell,
			Message: fmt.Sprintf("must be one of %s", strings.Join(sets.Sort(command.Shells), ", ")),
		})
	}

	if len(validationErrors) > 0 {
		var errMsg strings.Builder
		errMsg.WriteString("Configuration validation failed:\n")
		for _, err := range validationErrors {
			errMsg.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
		}
		return nil, fmt.Errorf("%s", errMsg.String())
	}

	return config, nil
}

// Addr returns the listen address, all interfaces
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// LogConfig logs the configuration
func (c *Config) LogConfig(logger *zap.Logger) {
	logger.Info("Configuration loaded",
		zap.Int("port", c.Port),
		zap.String("dir", c.Dir),
		zap.String("cert_file", c.CertFile),
		zap.String("generator", c.Generator),
		zap.String("cert_shell", c.CertShell),
		zap.String("openssl_path", c.OpenSSLPath),
		zap.Strings("openssl_args", c.OpenSSLArgs),
		zap.String("cert_subject", c.CertSubject),
		zap.Int("cert_days", c.CertDays),
		zap.Duration("cert_timeout", c.CertTimeout),
		zap.Bool("cert_strict", c.CertStrict),
		zap.Strings("cert_hosts", c.CertHosts),
		zap.Bool("debug", c.Debug))
}
