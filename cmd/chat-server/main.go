// chat-server is the chat daemon. It listens on the given address and
// serves the line protocol to any number of clients.
//
// Usage:
//
//	chat-server [flags] <host:port>
//
// Set CHAT_LOG (e.g. to "info" or "debug") to enable structured logs.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/server"
)

const version = "1.0.0"

func main() {
	configFile := pflag.StringP("config", "c", "", "Configuration file.")
	showVersion := pflag.BoolP("version", "V", false, "Print the version and exit.")
	showHelp := pflag.BoolP("help", "h", false, "Print this help and exit.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <host:port>\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *showHelp {
		pflag.Usage()
		return
	}
	if *showVersion {
		fmt.Printf("chat-server %s\n", version)
		return
	}

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}
	address := pflag.Arg(0)

	// A .env file may carry CHAT_LOG and friends. Missing is fine.
	_ = godotenv.Load()

	logger, err := logging.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	cfg := config.Default()
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration problem: %s\n", err)
			os.Exit(1)
		}
	}

	if cfg.MetricsAddress != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddress); err != nil {
				logger.Warn("metrics listener failed", zap.Error(err))
			}
		}()
	}

	srv := server.New(cfg, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal", zap.String("signal", sig.String()))
		srv.Shutdown()
	}()

	if err := srv.ListenAndServe(address); err != nil {
		logger.Error("server error", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
