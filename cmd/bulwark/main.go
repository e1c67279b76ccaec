// Command bulwark 启动外部服务编排与通知投递服务。
//
//	bulwark --config-dir ./deploy --config-name bulwark
//
// 配置来源见 config 包，所有 key 都可以用 BULWARK_ 前缀的环境变量覆盖。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/internal/app"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bulwark: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dirs []string
		name string
	)
	pflag.StringSliceVar(&dirs, "config-dir", []string{".", "./config"}, "directories searched for the config file")
	pflag.StringVar(&name, "config-name", "bulwark", "config file name without extension")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := app.Load(ctx, name, dirs...)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, app.WithLoader(loader))
	if err != nil {
		return err
	}
	logger := a.Logger()

	runErr := a.Run(ctx)
	if runErr != nil {
		logger.Error("bulwark stopped with error", clog.Error(runErr))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("bulwark shutting down")
	if err := a.Close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "bulwark: close: %v\n", err)
	}
	return runErr
}
