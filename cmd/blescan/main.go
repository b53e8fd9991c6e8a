// Command blescan lists nearby LE devices by signal strength and can dump the
// GATT services of the first device whose name matches a prefix.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"bleserver/bluez"
	"bleserver/logging"
)

type options struct {
	adapter string
	window  time.Duration
	service string
	connect string
	verbose bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("blescan", flag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.adapter, "adapter", bluez.DefaultAdapter, `adapter name, or "auto"`)
	fs.DurationVar(&opts.window, "timeout", 10*time.Second, "discovery window")
	fs.StringVar(&opts.service, "service", "", "only report devices advertising this service UUID")
	fs.StringVar(&opts.connect, "connect", "", "connect to the first device whose name has this prefix and list its services")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	level := logrus.InfoLevel
	if opts.verbose {
		level = logrus.DebugLevel
	}
	log := logging.New(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		log.WithError(err).Error("connect to system bus")
		return 1
	}
	defer conn.Close()

	if err := scan(ctx, conn, opts, os.Stdout, log); err != nil {
		log.WithError(err).Error("scan")
		return 1
	}
	return 0
}

func scan(ctx context.Context, conn bluez.Caller, opts options, out io.Writer, log logrus.FieldLogger) error {
	path, err := bluez.ResolveAdapter(conn, opts.adapter)
	if err != nil {
		return err
	}
	adapter := bluez.NewAdapter(conn, path)
	log.WithFields(logrus.Fields{"adapter": path, "window": opts.window}).Info("scanning")

	devices, err := adapter.Discover(ctx, opts.window, opts.service)
	if err != nil {
		return err
	}
	for i, d := range devices {
		rssi := "n/a"
		if d.HasRSSI {
			rssi = fmt.Sprint(d.RSSI)
		}
		fmt.Fprintf(out, "Device %d: rssi=%s %s %s\n", i, rssi, d.Addr, d.Name)
	}
	if opts.connect == "" {
		return nil
	}

	for _, d := range devices {
		if d.Name == "" || !strings.HasPrefix(d.Name, opts.connect) {
			continue
		}
		log.WithField("addr", d.Addr).Info("connecting")
		services, err := adapter.Services(ctx, d.Addr)
		if err != nil {
			return fmt.Errorf("%s: %w", d.Addr, err)
		}
		for _, svc := range services {
			fmt.Fprintf(out, "%s (service, primary=%t)\n", svc.UUID, svc.Primary)
			for _, c := range svc.Characteristics {
				fmt.Fprintf(out, "  %s [%s]\n", c.UUID, strings.Join(c.Flags, ","))
			}
		}
		log.WithField("addr", d.Addr).Info("disconnected")
		return nil
	}
	return fmt.Errorf("no device named %q*", opts.connect)
}
