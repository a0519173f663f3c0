package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v6"
	"github.com/sirupsen/logrus"

	"github.com/st0rybrook/ipfix-exporter/pkg/agent"
)

func main() {
	logrus.Infof("starting ipfix-exporter")
	config := agent.Config{}
	if err := env.Parse(&config); err != nil {
		logrus.WithError(err).Fatal("can't load configuration from environment")
	}

	lvl, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		logrus.WithError(err).Warn("assuming 'info' logging level as default")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.WithField("configuration", config).Debugf("configuration loaded")

	flowsAgent, err := agent.NewExporter(&config)
	if err != nil {
		logrus.WithError(err).Fatal("can't instantiate ipfix-exporter")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := flowsAgent.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("can't start ipfix-exporter")
	}
}
