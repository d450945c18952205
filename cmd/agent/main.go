// Command agent runs operator commands when a tcm node reports a ledger
// update or delete. Point the node's lifecycle_command at
// http://<addr>/action.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trustchain.mini/tcm/internal/agent"
	"trustchain.mini/tcm/internal/logger"
	"trustchain.mini/tcm/internal/types"
)

func main() {
	addr := flag.String("addr", "localhost:9001", "listen address")
	onUpdate := flag.String("on-update", "", "shell command run for an update")
	onDelete := flag.String("on-delete", "", "shell command run for a delete")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	lvl, err := logger.ParseLevel(*level)
	if err != nil {
		slog.Error("bad log level", "err", err)
		os.Exit(2)
	}
	log := logger.NewWithWriter(os.Stderr, lvl)

	commands := agent.Commands{}
	if *onUpdate != "" {
		commands[types.ActionUpdate] = *onUpdate
	}
	if *onDelete != "" {
		commands[types.ActionDelete] = *onDelete
	}
	if len(commands) == 0 {
		log.Warn("no commands configured; every action will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("agent listening", "addr", *addr)
	if err := agent.Serve(ctx, *addr, commands, log); err != nil {
		log.Error("agent exited", "err", err)
		os.Exit(1)
	}
}
