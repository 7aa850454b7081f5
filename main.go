package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fzft/go-uthread-io/cmd"
	"github.com/fzft/go-uthread-io/config"
	"github.com/fzft/go-uthread-io/log"
	"github.com/fzft/go-uthread-io/server"
	"go.uber.org/zap"
)

type options struct {
	configFile string
	addr       string
	workers    int
	logLevel   string
	cli        bool
	version    bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("uthread", flag.ContinueOnError)
	fs.StringVar(&opts.configFile, "config", "", "path of the YAML config file")
	fs.StringVar(&opts.addr, "addr", "", "listen address, or the server address with -cli")
	fs.IntVar(&opts.workers, "workers", -1, "worker goroutines, 0 means GOMAXPROCS")
	fs.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&opts.cli, "cli", false, "start the interactive client instead of the server")
	fs.BoolVar(&opts.version, "version", false, "print the version and exit")
	err := fs.Parse(args)
	return opts, err
}

// loadConfig applies flags on top of the config file, or the defaults when no
// file is given.
func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configFile != "" {
		var err error
		if cfg, err = config.Load(opts.configFile); err != nil {
			return cfg, err
		}
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.workers >= 0 {
		cfg.Workers = opts.workers
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, cfg.Validate()
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if opts.version {
		fmt.Println(Version())
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if opts.cli {
		os.Exit(runCli(cfg))
	}

	if err := log.InitLogger(log.Options{Level: cfg.Log.Level, Development: cfg.Log.Development}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	log.Logger.Info("starting server", zap.String("version", Version()), zap.String("build", BuildIdRaw()))
	s := server.NewServer(cfg)
	if err := s.Run(ctx); err != nil {
		log.Logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func runCli(cfg config.Config) int {
	host, portStr, _ := net.SplitHostPort(cfg.Addr)
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", portStr)
		return 1
	}
	cli := cmd.NewCli(host, port, 0)
	if err := cli.Run(os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
