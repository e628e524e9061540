package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"

	"dev.eqrx.net/wgup/internal"
	"github.com/go-logr/stdr"
	"golang.org/x/sys/unix"
)

func main() {
	if v, err := strconv.Atoi(os.Getenv("WGUP_VERBOSITY")); err == nil {
		stdr.SetVerbosity(v)
	}

	log := stdr.New(stdlog.New(os.Stderr, "", 0))

	var err error
	defer func() {
		if err != nil {
			log.Error(err, "program error")
			os.Exit(1)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGTERM, unix.SIGINT)
	defer cancel()

	err = internal.Run(ctx, log, os.Args[1:])
}
