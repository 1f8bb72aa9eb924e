package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"execution_client/internal/bootstrap"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

const usage = `Usage: execution_client [-config path] <command> [flags]

Commands:
  submit     submit an order
  cancel     cancel an order by broker order id
  status     show one order
  open       list open orders
  positions  list positions
  fills      list executions of an order
  serve      stay connected, reconnect on loss and serve /metrics and /healthz
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("execution_client", flag.ContinueOnError)
	configPath := fs.String("config", "configs/execution_client.yaml", "Path to configuration file")
	timeout := fs.Duration("timeout", 30*time.Second, "Deadline for one-shot commands")
	showVersion := fs.Bool("version", false, "Show version and exit")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Printf("execution_client version %s (built %s)\n", version, buildTime)
		return 0
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}
	name, cmdArgs := rest[0], rest[1:]

	if name == "serve" {
		return serve(*configPath)
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		fs.Usage()
		return 2
	}

	app, err := bootstrap.NewApp(*configPath, bootstrap.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer func() {
		if err := app.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Shutdown: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	result, err := cmd(ctx, app, cmdArgs)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		app.Logger.Error("Command failed", "command", name, "error", err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		return 1
	}
	return printJSON(result)
}

func serve(configPath string) int {
	app, err := bootstrap.NewApp(configPath, bootstrap.Options{Serve: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	app.Logger.Info("Starting execution_client", "version", version, "gateway", app.Conn.Address())

	runErr := app.Run(app.Runners()...)
	if err := app.Close(); err != nil {
		app.Logger.Warn("Shutdown incomplete", "error", err)
	}
	if runErr != nil {
		return 1
	}
	return 0
}

func printJSON(v interface{}) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		return 1
	}
	return 0
}
