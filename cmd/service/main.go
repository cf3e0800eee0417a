package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/laborar/portal/internal"
	"github.com/laborar/portal/internal/config"
	"github.com/laborar/portal/internal/logging"
	"github.com/laborar/portal/internal/telemetry/tracing"
	"github.com/laborar/portal/pkg"

	log "github.com/sirupsen/logrus"
)

func main() {
	fmt.Println("starting ...")

	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	flag.Parse()

	log.Warnf("---->> running in [%s] environment", *env)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	logCloser := logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    cfg.LogFormatJSON,
		Environment:      cfg.Environment,
		SentryEnabled:    sentryDSN != "",
		SentryDSN:        sentryDSN,
		SentryServerName: "laborar-portal",
	})
	defer func() {
		if err := logCloser.Close(); err != nil {
			fmt.Printf("close logs: %s\n", err)
		}
	}()

	log.Debugf("using port: %d", cfg.Port)
	log.Debugf("using server logs path: [%s]", cfg.LogsPath)
	log.Debugf("using public dir: [%s]", cfg.PublicDir)
	log.Debugf("using views dir: [%s]", cfg.ViewsDir)

	if exists, err := pkg.PathExists(cfg.PublicDir, true); err != nil || !exists {
		log.Warnf("public dir [%s] not usable, only built-in pages will be served (err: %v)", cfg.PublicDir, err)
	}

	if cfg.SessionSecret == config.Default().SessionSecret {
		log.Warnln("session secret not set, using the development default. use SESSION_SECRET")
	}

	otelShutdown, err := tracing.Setup(cfg.TracingEnabled, "laborar-portal", log.StandardLogger().Out)
	if err != nil {
		log.Fatalf("tracing setup: %s", err)
	}

	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:       cfg,
			OtelShutdown: otelShutdown,
		},
	)
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	server.Serve(ctx)
	log.Infof("demo user: [%s]", cfg.DemoUser)

	receivedSig := <-chOsInterrupt
	log.Warnf("signal [%s] received, killing everything ...", receivedSig)
	cancel()

	server.GracefulShutdown()
}
