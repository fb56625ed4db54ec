// Binary moondust is the development-host entry point for the
// simulated kernel: a subcommand-driven CLI in the same shape as
// runsc's, registering "boot" (bring up the kernel and run its
// built-in demo program image) alongside the subcommands package's
// generated help and flags commands.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/moondust-os/moondust/internal/klog"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&bootCommand{}, "")

	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if err := klog.SetLevel(*logLevel); err != nil {
		klog.Fatalf("moondust: invalid -log-level: %v", err)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
