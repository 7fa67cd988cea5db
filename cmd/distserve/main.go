// Package main provides the distserve command-line interface.
// distserve serves the dist directory over HTTPS with a self-signed
// certificate generated on first run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arhuman/distserve/internal/certs"
	"github.com/arhuman/distserve/internal/config"
	"github.com/arhuman/distserve/internal/logging"
	"github.com/arhuman/distserve/internal/version"
	"github.com/arhuman/distserve/internal/web"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("distserve %s\n", version.Info())
		return
	}

	// Load configuration from environment, .env file, and command line flags
	cfg, err := config.LoadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, _, err := logging.SetupLogger(cfg.Debug)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting distserve",
		zap.String("version", version.Component("distserve")),
		zap.String("environment", version.EnvironmentInfo()))
	cfg.LogConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("distserve failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}

// run provisions the certificate, checks the served directory, binds the
// port, then loads the certificate into TLS and serves cfg.Dir until ctx is
// cancelled. Every setup failure is returned before serving starts.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger, start := logging.FuncLogger(logger, "run")
	defer logging.FuncExit(logger, start)

	provisioner := certs.NewProvisioner(certs.ProvisionerConfigFrom(cfg), nil, logger)
	outcome, err := provisioner.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("failed to provision certificate: %w", err)
	}
	logger.Debug("Certificate provisioning finished", zap.Stringer("outcome", outcome))

	server, err := web.NewServer(cfg, logger)
	if err != nil {
		return err
	}

	ln, err := server.Listen()
	if err != nil {
		return err
	}

	cert, err := certs.Load(cfg.CertFile)
	if err != nil {
		ln.Close()
		return err
	}
	if info, err := certs.Describe(cert); err == nil {
		info.Log(logger)
	}

	logger.Info("Serving", zap.String("url", fmt.Sprintf("https://localhost:%d/", cfg.Port)))
	return server.Serve(ctx, ln, cert)
}
