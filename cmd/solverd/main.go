package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkade-os/solverd/internal/config"
	grpcservice "github.com/arkade-os/solverd/internal/interface/grpc"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Version will be set during build time
var Version string

func mainAction(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))
	if cfg.LogFile != "" {
		log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}))
	}

	svcConfig := grpcservice.Config{
		Datadir:         cfg.Datadir,
		Port:            cfg.Port,
		NoTLS:           cfg.NoTLS,
		TLSExtraIPs:     cfg.TLSExtraIPs,
		TLSExtraDomains: cfg.TLSExtraDomains,
		EnablePprof:     cfg.EnablePprof,
	}

	svc, err := grpcservice.NewService(svcConfig, cfg)
	if err != nil {
		return err
	}

	log.Infof("solverd config: %s", cfg)

	log.RegisterExitHandler(svc.Stop)

	log.Info("starting service...")
	if err := svc.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)

	return nil
}

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "solverd"
	app.Usage = "run a cross-chain intent solver"
	app.UsageText = "watches settlement contracts on several chains and fills profitable intents"
	app.Commands = append(app.Commands, infoCmd, intentsCmd, liquidityCmd, reconcileCmd, pricesCmd, receiptsCmd)
	app.Action = mainAction
	app.Flags = append(app.Flags, config.Flags...)

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
