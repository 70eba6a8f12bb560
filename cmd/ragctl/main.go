// Package main 是 ragctl 命令行工具的入口点。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"docchat-go/internal/cli"
	"docchat-go/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer log.Sync()

	if err := cli.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
