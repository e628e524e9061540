// Package internal contains all the actual logic of the project.
package internal

import (
	"context"
	"flag"
	"fmt"
	"net"

	"dev.eqrx.net/wgup"
	"dev.eqrx.net/wgup/internal/config"
	"dev.eqrx.net/wgup/internal/device"
	"dev.eqrx.net/wgup/internal/netlink"
	"dev.eqrx.net/wgup/internal/service"
	"github.com/go-logr/logr"
)

const defaultEnvFile = ".env"

// Run provisions the local wireguard interface according to the environment.
//
// The optional env file is loaded first, then the configuration is read and validated before any
// link or device is touched. With -down the interface is removed instead, with -show the state
// of all wireguard devices is logged.
func Run(ctx context.Context, log logr.Logger, args []string) error {
	flags := flag.NewFlagSet("wgup", flag.ContinueOnError)
	envFile := flags.String("env", defaultEnvFile, "dotenv file to load before reading the environment")
	down := flags.Bool("down", false, "remove the interface instead of provisioning it")
	show := flags.Bool("show", false, "log the state of all wireguard devices and exit")

	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse arguments: %w", err)
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		return err
	}

	links := netlink.NewManager(netlink.Open)
	devices := device.NewClient(device.Open)

	if *show {
		return service.Show(log, devices)
	}

	if *down {
		name, err := config.IfaceName()
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}

		return service.New(nil, wgup.Configuration{IfaceName: name}, links, devices).Down(log)
	}

	conf, err := config.Load()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	resolver := &net.Resolver{PreferGo: true, StrictErrors: true, Dial: nil}
	svc := service.New(resolver, conf, links, devices)

	state, err := svc.Up(ctx, log)
	log.Info("setup finished", "iface", conf.IfaceName, "state", state)

	if err != nil {
		return fmt.Errorf("set up %s: %w", conf.IfaceName, err)
	}

	if err := svc.Verify(log); err != nil {
		return fmt.Errorf("verify %s: %w", conf.IfaceName, err)
	}

	return nil
}
