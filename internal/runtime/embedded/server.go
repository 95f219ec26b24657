// Package embedded runs an in-process NATS server for local development,
// examples and tests.
package embedded

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/drblury/natsflow/internal/runtime/logging"
)

// RandomPort asks the server to pick a free port.
const RandomPort = server.RANDOM_PORT

// Options configures the embedded server.
type Options struct {
	ServerName string
	Host       string
	// Port defaults to RandomPort when zero.
	Port int
	// EnableLogging routes server logs to the logger passed to Start.
	EnableLogging bool
	// JetStream enables JetStream with storage under StoreDir, or a
	// temporary directory when StoreDir is empty.
	JetStream bool
	StoreDir  string
	// ReadyTimeout bounds the wait for client connections. Defaults to 5s.
	ReadyTimeout time.Duration
}

// Start launches a NATS server and waits until it accepts connections.
// Callers own the returned server and must Shutdown it.
func Start(opts Options, logger logging.ServiceLogger) (*server.Server, error) {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = RandomPort
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 5 * time.Second
	}
	if opts.ServerName == "" {
		opts.ServerName = "natsflow_embedded"
	}

	ns, err := server.NewServer(&server.Options{
		ServerName: opts.ServerName,
		Host:       opts.Host,
		Port:       opts.Port,
		NoLog:      !opts.EnableLogging,
		NoSigs:     true,
		JetStream:  opts.JetStream,
		StoreDir:   opts.StoreDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	if opts.EnableLogging && logger != nil {
		ns.SetLogger(NewServerLogger(logger), false, false)
	}

	go ns.Start()
	if !ns.ReadyForConnections(opts.ReadyTimeout) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server not ready in time")
	}
	return ns, nil
}

// NewServerLogger adapts a ServiceLogger to the nats-server Logger interface.
func NewServerLogger(log logging.ServiceLogger) server.Logger {
	return &serverLogger{log: log.With(logging.LogFields{"component": "nats-server"})}
}

type serverLogger struct {
	log logging.ServiceLogger
}

func (l *serverLogger) Noticef(format string, v ...any) {
	l.log.Info(fmt.Sprintf(format, v...), nil)
}

func (l *serverLogger) Warnf(format string, v ...any) {
	l.log.Info(fmt.Sprintf(format, v...), logging.LogFields{"warning": true})
}

func (l *serverLogger) Errorf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...), nil, nil)
}

func (l *serverLogger) Fatalf(format string, v ...any) {
	l.log.Error("NATS FATAL: "+fmt.Sprintf(format, v...), nil, nil)
}

func (l *serverLogger) Debugf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...), nil)
}

func (l *serverLogger) Tracef(format string, v ...any) {
	l.log.Trace(fmt.Sprintf(format, v...), nil)
}
