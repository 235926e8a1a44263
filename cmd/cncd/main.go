// Command cncd is the daemon entry point: it wires a Transport, the
// controller core, and a WebSocket broadcast sink together and runs the
// cooperative event loop until interrupted. Grounded in
// iwtcode-fanucAdapter's cmd/ main (flag + godotenv + signal.Notify
// shutdown) and i4energy-sms-gateway's main, which boots its Modem the
// same way.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bhangun/cncjs/controller"
	ctransport "github.com/bhangun/cncjs/controller/transport"
	"github.com/bhangun/cncjs/internal/config"
	"github.com/bhangun/cncjs/internal/logging"
	"github.com/bhangun/cncjs/internal/wsbroadcast"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cncd:", err)
		os.Exit(1)
	}
}

func run() error {
	fSet := flag.NewFlagSet("cncd", flag.ContinueOnError)
	fSet.String("transport", "", "transport kind: serial or socket")
	fSet.String("serial-port", "", "serial device path")
	fSet.Int("baud-rate", 0, "serial baud rate")
	fSet.String("socket-addr", "", "host:port for socket transport")
	fSet.String("ws-listen-addr", "", "listen address for the WebSocket broadcast server")
	fSet.String("log-level", "", "DEBUG, INFO, WARN, or ERROR")
	fSet.Bool("ignore-errors", false, "keep sending a loaded program across ack-level firmware error responses")
	triggerFile := fSet.String("trigger-file", "", "path to a YAML event-trigger mapping file")
	if err := fSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.LoadConfiguration(
		config.WithDefaults(),
		config.WithEnv(),
		config.WithFlags(fSet),
	)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logging.NewLogger(&logging.Config{
		Enabled:    cfg.Logging.Enable,
		Level:      cfg.Logging.Level,
		LogsDir:    cfg.Logging.LogsDir,
		SavingDays: cfg.Logging.SavingDays,
	}, "cncd")
	defer log.Close()

	var transport controller.Transport
	switch cfg.TransportKind {
	case "socket":
		transport = ctransport.NewSocketTransport(cfg.SocketAddr)
	default:
		transport = ctransport.NewSerialTransport(cfg.SerialPort, cfg.BaudRate)
	}

	broadcast := wsbroadcast.NewSink(log.WithPrefix("wsbroadcast").Entry())

	ctl := controller.NewController(controller.Config{
		Transport:    transport,
		Broadcast:    broadcast,
		Log:          log.Entry(),
		IgnoreErrors: cfg.IgnoreErrors,
	})

	if *triggerFile != "" {
		mapping, err := config.LoadTriggerFile(*triggerFile)
		if err != nil {
			return fmt.Errorf("load trigger file: %w", err)
		}
		ctl.ConfigureTriggers(mapping)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("cncd: shutdown signal received")
		cancel()
	}()

	mux := http.NewServeMux()
	mux.Handle("/socket", broadcast.Handler())
	httpServer := &http.Server{Addr: cfg.WSListenAddr, Handler: mux}
	go func() {
		log.WithField("addr", cfg.WSListenAddr).Info("cncd: broadcast server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("cncd: broadcast server failed", "error", err)
		}
	}()

	runErr := ctl.Run(ctx)
	_ = httpServer.Close()
	if runErr != nil && runErr != context.Canceled {
		return fmt.Errorf("controller run: %w", runErr)
	}
	return nil
}
