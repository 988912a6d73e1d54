/*
Command tinyhttpd serves static files and forwards dynamic requests to a
FastCGI backend under a process supervisor.

	tinyhttpd --config=config.ini --command=start

Configuration is read from the config file (ini, yaml or json), then
TINYHTTPD_ environment variables, then --key=value arguments.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/eudore/tinyhttpd"
	"github.com/eudore/tinyhttpd/daemon"
	"github.com/eudore/tinyhttpd/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	os.Exit(run())
}

func run() int {
	conf, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if daemon.IsDetached() {
		conf.Logger.Stdout = false
	}
	log, err := tinyhttpd.NewLogger(&conf.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer tinyhttpd.CloseLogger(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := daemon.NewCommand(conf.Command, conf.Pidfile)
	cmd.User = conf.User
	err = cmd.Run(ctx)
	switch {
	case errors.Is(err, daemon.ErrDetached):
		return 0
	case err != nil:
		return 1
	case conf.Command != daemon.CommandStart && conf.Command != daemon.CommandDaemon:
		return 0
	}

	metrics := server.NewMetrics()
	if conf.MetricsAddress != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			metrics,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		go func() {
			if err := server.ServeMetrics(ctx, conf.MetricsAddress, reg, log); err != nil {
				log.Errorf("metrics server error: %v", err)
			}
		}()
	}

	sup := daemon.NewSupervisor(conf, log, server.NewWorkerFunc(log, metrics))
	sup.Gauge = metrics.Workers
	sup.Load = loadConfig
	err = sup.Run(ctx)
	var fatal *tinyhttpd.SupervisorFatalError
	switch {
	case errors.As(err, &fatal):
		log.Fatal(err)
		return 1
	case err != nil:
		log.Errorf("supervisor stopped with error: %v", err)
	}
	return 0
}

func loadConfig() (*tinyhttpd.Config, error) {
	keys, err := tinyhttpd.ParseConfigMap()
	if err != nil {
		return nil, err
	}
	return tinyhttpd.NewConfig(keys)
}
