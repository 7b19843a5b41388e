package link

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
)

// Port is an open serial handle. Read may return (0, nil) when its read
// timeout expires without data.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

// Opener acquires a fresh Port. It is called by the ingest loop on every
// (re)open attempt.
type Opener func() (Port, error)

// OpenerConfig selects and configures a serial driver.
type OpenerConfig struct {
	Driver      string // "bugst" (default), "tarm" or "demo"
	PortPath    string
	BaudRate    int
	ReadTimeout time.Duration
	// Demo only: line interval
	SamplePeriod time.Duration
}

// NewOpener returns the Opener for cfg.Driver.
func NewOpener(cfg OpenerConfig) (Opener, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 200 * time.Millisecond
	}
	switch cfg.Driver {
	case "", "bugst":
		return func() (Port, error) { return OpenBugst(cfg.PortPath, cfg.BaudRate, cfg.ReadTimeout) }, nil
	case "tarm":
		return func() (Port, error) { return OpenTarm(cfg.PortPath, cfg.BaudRate, cfg.ReadTimeout) }, nil
	case "demo":
		return func() (Port, error) { return NewDemoPort(cfg.SamplePeriod), nil }, nil
	}
	return nil, fmt.Errorf("link: unknown driver %q", cfg.Driver)
}

// OpenBugst opens path with go.bug.st/serial at 8N1.
func OpenBugst(path string, baud int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("link: failed to open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("link: failed to set timeout on %s: %w", path, err)
	}
	return port, nil
}

// tarmPort adapts github.com/tarm/serial. On POSIX tarm reports both an
// expired read timeout and a hung-up tty as (0, io.EOF); only the timeout
// actually waits.
type tarmPort struct {
	p       io.ReadCloser
	timeout time.Duration // effective VTIME wait
	now     func() time.Time
}

// OpenTarm opens path with github.com/tarm/serial.
func OpenTarm(path string, baud int, readTimeout time.Duration) (Port, error) {
	p, err := tarm.OpenPort(&tarm.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("link: failed to open %s: %w", path, err)
	}
	return newTarmPort(p, readTimeout), nil
}

func newTarmPort(p io.ReadCloser, readTimeout time.Duration) *tarmPort {
	return &tarmPort{p: p, timeout: tarmTimeout(readTimeout), now: time.Now}
}

// tarmTimeout is the wait tarm really configures: VTIME counts whole
// deciseconds between 1 and 255.
func tarmTimeout(d time.Duration) time.Duration {
	ds := d / (100 * time.Millisecond)
	if ds < 1 {
		ds = 1
	} else if ds > 255 {
		ds = 255
	}
	return ds * 100 * time.Millisecond
}

func (t *tarmPort) Read(b []byte) (int, error) {
	start := t.now()
	n, err := t.p.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		if t.now().Sub(start) >= t.timeout/2 {
			return 0, nil
		}
		return 0, fmt.Errorf("link: tarm read returned EOF without waiting (port hung up): %w", io.EOF)
	}
	return n, err
}

func (t *tarmPort) Close() error { return t.p.Close() }

// IsLinkDropped reports whether err means the handle itself is gone, as
// opposed to a transient read failure on an open port.
func IsLinkDropped(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var pe *serial.PortError
	return errors.As(err, &pe) && pe.Code() == serial.PortClosed
}
