// Command sioserver runs the Socket.IO test server: a root channel answering
// message, hello and "update item", and a /chat channel exercising binary
// arguments and acknowledgements.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	socketio "github.com/bubblesnake/socketio"
	"github.com/bubblesnake/socketio/internal/logging"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sioserver: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("sioserver", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a TOML config file")
	addr := flags.String("addr", "", "listen address (overrides config)")
	secure := flags.Bool("secure", false, "serve HTTPS with cert_file and key_file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg := defaultServerConfig()
	if *configPath != "" {
		loaded, err := loadServerConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "secure":
			cfg.Secure = *secure
		}
	})
	if err := cfg.validate(); err != nil {
		return err
	}

	logger := logging.New("sioserver", logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok && os.Getenv(logging.EnvLogLevel) == "" {
		logger = logger.Level(lvl)
	}
	cfg.Socket.Logger = &logger

	server := socketio.NewServer(&cfg.Socket)
	registerHandlers(server, logger)

	httpServer := &http.Server{
		Handler:           newRouter(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Secure {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("load tls credentials: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	if httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, httpServer.TLSConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", ln.Addr().String()).Bool("secure", cfg.Secure).Msg("server listening")
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")

		server.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
