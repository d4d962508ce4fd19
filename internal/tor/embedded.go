package tor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultStartupTimeout bounds the bootstrap of the embedded daemon.
const DefaultStartupTimeout = 3 * time.Minute

// ErrNotRunning is returned when the daemon address is needed before
// Start succeeded.
var ErrNotRunning = errors.New("embedded Tor daemon is not running")

// process is the part of *tornago.TorProcess the daemon uses.
type process interface {
	SocksAddr() string
	ControlAddr() string
	Stop() error
}

// Daemon manages one embedded Tor process.
//
// Bootstrapping takes one to three minutes: Tor downloads the directory
// consensus and builds its first circuits before the SOCKS port accepts
// connections.
type Daemon struct {
	process        process
	socksAddr      string
	controlAddr    string
	startupTimeout time.Duration

	launch func(timeout time.Duration) (process, error)
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(d *Daemon) {
		if timeout > 0 {
			d.startupTimeout = timeout
		}
	}
}

// NewDaemon creates a daemon manager. Call Start to launch Tor.
func NewDaemon(opts ...Option) *Daemon {
	d := &Daemon{
		startupTimeout: DefaultStartupTimeout,
		launch:         launchTornago,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// launchTornago starts Tor with SOCKS and control listeners on ports
// chosen by the OS. It blocks until Tor has bootstrapped.
func launchTornago(timeout time.Duration) (process, error) {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tor launch config: %w", err)
	}
	p, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Start launches the daemon and waits for it to bootstrap. A daemon that
// finishes starting after ctx was cancelled is stopped again.
func (d *Daemon) Start(ctx context.Context) error {
	if d.process != nil {
		return nil
	}

	p, err := d.launch(d.startupTimeout)
	if err != nil {
		return fmt.Errorf("failed to start embedded Tor daemon: %w", err)
	}

	if err := ctx.Err(); err != nil {
		_ = p.Stop() //nolint:errcheck // the start is being abandoned
		return err
	}

	d.process = p
	d.socksAddr = p.SocksAddr()
	d.controlAddr = p.ControlAddr()
	return nil
}

// Stop shuts the daemon down. It is safe to call on a daemon that was
// never started, and more than once.
func (d *Daemon) Stop() error {
	if d.process == nil {
		return nil
	}
	err := d.process.Stop()
	d.process = nil
	d.socksAddr = ""
	d.controlAddr = ""
	return err
}

// SocksAddr returns the "host:port" of the SOCKS5 listener, or an empty
// string when the daemon is not running.
func (d *Daemon) SocksAddr() string {
	return d.socksAddr
}

// ControlAddr returns the control port address, or an empty string when
// the daemon is not running.
func (d *Daemon) ControlAddr() string {
	return d.controlAddr
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (d *Daemon) IsRunning() bool {
	return d.process != nil
}

// ProxyAddress returns the SOCKS5 address to route traffic through.
func (d *Daemon) ProxyAddress() (string, error) {
	if !d.IsRunning() {
		return "", ErrNotRunning
	}
	return d.socksAddr, nil
}
