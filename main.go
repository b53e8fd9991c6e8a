package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"bleserver/bluez"
	"bleserver/busname"
	"bleserver/lifecycle"
	"bleserver/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("bleserver", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log := logging.New(os.Stdout, cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"name":                cfg.BusName,
		"adapter":             cfg.Adapter,
		"service_uuid":        cfg.ServiceUUID.String(),
		"characteristic_uuid": cfg.CharacteristicUUID.String(),
	}).Info("starting BLE GATT server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := lifecycle.New(
		lifecycle.Config{
			BusName:     cfg.BusName,
			AppPath:     cfg.AppPath,
			ServiceUUID: cfg.ServiceUUID.String(),
			ExportRoot:  cfg.ExportRoot,
		},
		lifecycle.BusOwner(busname.NewOwner(busname.SystemBus, log)),
		bluez.NewRegistrar(cfg.Adapter, log),
		lifecycle.WithLogger(log),
	)
	reason, err := ctrl.Run(ctx)
	if err != nil {
		log.WithError(err).Error("lifecycle")
		return 1
	}
	return reason.ExitCode()
}
