package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// 收到 Ctrl+C 时取消所有正在进行的请求
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApplication).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", describe(err))
		os.Exit(1)
	}
}
