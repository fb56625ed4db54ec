package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"

	"github.com/moondust-os/moondust/internal/bootconfig"
	"github.com/moondust-os/moondust/internal/kernel"
	"github.com/moondust-os/moondust/internal/klog"
)

// bootCommand implements subcommands.Command for "boot": it loads a
// moondust.toml bundle (if given), brings up the kernel's subsystems,
// and runs the built-in demo program image (kernel.RunDemoProcess) to
// completion. The bundle's program_image setting is not read.
type bootCommand struct {
	configPath string
	priority   int
}

func (*bootCommand) Name() string { return "boot" }

func (*bootCommand) Synopsis() string {
	return "bring up the kernel and run its program image"
}

func (*bootCommand) Usage() string {
	return "boot [-config moondust.toml] [-priority N] - start the kernel\n"
}

func (b *bootCommand) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&b.configPath, "config", "", "path to a moondust.toml bundle")
	fs.IntVar(&b.priority, "priority", 1, "priority level the program image's threads run at")
}

func (b *bootCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := bootconfig.Load(b.configPath, nil)
	if err != nil {
		klog.Warningf("moondust: loading config: %v", err)
		return subcommands.ExitFailure
	}

	k, err := kernel.Boot(ctx, cfg)
	if err != nil {
		klog.Warningf("moondust: boot failed: %v", err)
		return subcommands.ExitFailure
	}
	defer k.Shutdown()

	code := k.RunDemoProcess(clampPriority(b.priority, cfg.PriorityLevels))
	klog.Infof("moondust: program image exited with code %d", code)
	return subcommands.ExitSuccess
}

func clampPriority(p, levels int) int {
	if levels <= 0 {
		return 0
	}
	if p < 0 {
		return 0
	}
	if p >= levels {
		return levels - 1
	}
	return p
}
