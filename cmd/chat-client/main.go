// chat-client is the interactive client. It connects to a chat server,
// sends each stdin line to the server, and prints each server line to
// stdout.
//
// Usage:
//
//	chat-client [flags] <host:port>
//
// Register with "NAME @yourname" once connected. Set CHAT_LOG to enable
// structured logs.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/parleychat/parley/internal/client"
	"github.com/parleychat/parley/internal/logging"
)

const version = "1.0.0"

func main() {
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
		fmt.Printf("chat-client %s\n", version)
		return
	}

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	logger, err := logging.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := client.Run(pflag.Arg(0), os.Stdin, os.Stdout, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
