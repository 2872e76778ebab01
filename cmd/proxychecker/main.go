package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"proxychecker/internal/app"
	"proxychecker/internal/service/console"
	"proxychecker/internal/shared/config"
	"proxychecker/internal/shared/logger"
	"proxychecker/internal/shared/types"
	manager "proxychecker/proxypool"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	outPath := flag.String("out", "", "Export available proxies to this file (default: [export] dir with a timestamped name)")
	serve := flag.Bool("serve", false, "Start the web console instead of running a single batch")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "proxychecker.ini")

	// 1. 加载 .ini 配置, 文件不存在时使用默认值
	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			// Use standard fmt before logger is initialized.
			fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
			os.Exit(1)
		}
		cfg = config.Default()
		iniPath = ""
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if iniPath == "" {
		logger.Warn().Str("configdir", *configDir).Msg("proxychecker.ini not found, using built-in defaults.")
	}

	if *serve {
		os.Exit(runWeb(cfg, iniPath))
	}
	os.Exit(runConsole(cfg, iniPath, *outPath, flag.Args()))
}

// runWeb 启动 Web 控制台, 收到中断信号后退出
func runWeb(cfg *types.Config, iniPath string) int {
	appServer, err := app.NewForWeb(cfg, iniPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create app server")
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Received shutdown signal, stopping...")
		appServer.Stop()
	}()

	if err := appServer.Serve(); err != nil {
		logger.Error().Err(err).Msg("Web console failed")
		return 1
	}
	return 0
}

// runConsole 执行一次批次。第一次中断信号停止分发, 第二次强制退出。
// 位置参数为本地代理列表文件, 存在时代替配置的代理源。
func runConsole(cfg *types.Config, iniPath, outPath string, files []string) int {
	lines, err := readListFiles(files)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read proxy list file")
		return 1
	}

	bar := console.NewProgressBar(os.Stderr)
	printer := console.NewResultPrinter(os.Stdout)
	appServer, err := app.NewForConsole(cfg, iniPath, manager.Sinks{
		Results:  []manager.ResultSink{printer},
		Progress: []manager.ProgressSink{bar},
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create app server")
		return 1
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		appServer.StopBatch()
		<-sigCh
		fmt.Fprintln(os.Stderr, "Forced exit.")
		os.Exit(130)
	}()

	start := time.Now()
	summary, err := appServer.RunOnce(context.Background(), lines)
	bar.Finish()
	switch {
	case errors.Is(err, manager.ErrNoCandidates):
		return 0
	case err != nil:
		logger.Error().Err(err).Msg("Batch failed")
		return 1
	}

	logger.Info().
		Str("run_id", summary.RunID).
		Int("tested", summary.Tested).
		Int("valid", summary.Valid).
		Bool("cancelled", summary.Cancelled).
		Str("elapsed", time.Since(start).Round(time.Millisecond).String()).
		Msg("Batch complete.")

	if len(summary.Available) == 0 {
		return 0
	}
	var path string
	if outPath != "" {
		path = outPath
		err = appServer.Storage().SaveTo(outPath, summary.Available, time.Now())
	} else {
		path, err = appServer.Storage().Save(summary.Available)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Export failed")
		return 1
	}
	logger.Info().Str("path", path).Int("count", len(summary.Available)).Msg("Available proxies saved.")
	return 0
}

func readListFiles(files []string) ([]string, error) {
	var lines []string
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		lines = append(lines, config.SplitLines(string(data))...)
	}
	return lines, nil
}
