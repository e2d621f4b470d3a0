package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/godbus/dbus/v5"
)

// ErrNoIdleSource is returned when no idle source works on this host.
var ErrNoIdleSource = errors.New("no usable idle source")

// IdleSource reports how long the user has been without keyboard or mouse input.
// Close releases the source's bus connection, if any.
type IdleSource interface {
	Name() string
	IdleDuration(ctx context.Context) (time.Duration, error)
	Close() error
}

// Idle source kinds accepted by NewIdleSource.
const (
	IdleSourceAuto   = "auto"
	IdleSourceMutter = "mutter"
	IdleSourceLogind = "logind"
	IdleSourceIOReg  = "ioreg"
)

// NewIdleSource returns the configured idle source. "auto" picks the first
// source whose probe succeeds.
func NewIdleSource(ctx context.Context, kind string) (IdleSource, error) {
	switch kind {
	case IdleSourceMutter:
		return NewMutterIdleSource()
	case IdleSourceLogind:
		return NewLogindIdleSource()
	case IdleSourceIOReg:
		return NewIORegIdleSource(), nil
	case "", IdleSourceAuto:
	default:
		return nil, fmt.Errorf("unknown idle source: %s", kind)
	}

	var candidates []func() (IdleSource, error)
	if runtime.GOOS == "darwin" {
		candidates = append(candidates, func() (IdleSource, error) { return NewIORegIdleSource(), nil })
	} else {
		candidates = append(candidates,
			func() (IdleSource, error) { return NewMutterIdleSource() },
			func() (IdleSource, error) { return NewLogindIdleSource() },
		)
	}

	return probeIdleSources(ctx, candidates)
}

// probeIdleSources returns the first candidate that samples successfully.
// Candidates that fail their probe are closed.
func probeIdleSources(ctx context.Context, candidates []func() (IdleSource, error)) (IdleSource, error) {
	var errs []error
	for _, candidate := range candidates {
		source, err := candidate()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := source.IdleDuration(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", source.Name(), err))
			_ = source.Close()
			continue
		}
		return source, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoIdleSource, errors.Join(errs...))
}

// MutterIdleSource queries GNOME's idle monitor on the session bus.
type MutterIdleSource struct {
	conn *dbus.Conn
}

// NewMutterIdleSource connects to the session bus.
func NewMutterIdleSource() (*MutterIdleSource, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &MutterIdleSource{conn: conn}, nil
}

// Name returns the source name.
func (s *MutterIdleSource) Name() string { return IdleSourceMutter }

// IdleDuration calls org.gnome.Mutter.IdleMonitor.GetIdletime, which reports milliseconds.
func (s *MutterIdleSource) IdleDuration(ctx context.Context) (time.Duration, error) {
	obj := s.conn.Object("org.gnome.Mutter.IdleMonitor", "/org/gnome/Mutter/IdleMonitor/Core")
	var ms uint64
	if err := obj.CallWithContext(ctx, "org.gnome.Mutter.IdleMonitor.GetIdletime", 0).Store(&ms); err != nil {
		return 0, fmt.Errorf("get idletime: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Close closes the session bus connection.
func (s *MutterIdleSource) Close() error { return s.conn.Close() }

// LogindIdleSource reads the IdleHint of this process's logind session.
type LogindIdleSource struct {
	conn    *dbus.Conn
	session dbus.ObjectPath
	now     func() time.Time
}

// NewLogindIdleSource resolves the caller's session on the system bus.
func NewLogindIdleSource() (*LogindIdleSource, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	path, err := sessionPath(context.Background(), conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &LogindIdleSource{conn: conn, session: path, now: time.Now}, nil
}

// Name returns the source name.
func (s *LogindIdleSource) Name() string { return IdleSourceLogind }

// IdleDuration returns 0 while logind reports the session active, else the
// time since IdleSinceHint.
func (s *LogindIdleSource) IdleDuration(ctx context.Context) (time.Duration, error) {
	obj := s.conn.Object(login1Dest, s.session)

	hint, err := obj.GetProperty(login1SessionIface + ".IdleHint")
	if err != nil {
		return 0, fmt.Errorf("get IdleHint: %w", err)
	}
	idle, ok := hint.Value().(bool)
	if !ok {
		return 0, fmt.Errorf("unexpected IdleHint type %s", hint.Signature())
	}
	if !idle {
		return 0, nil
	}

	since, err := obj.GetProperty(login1SessionIface + ".IdleSinceHint")
	if err != nil {
		return 0, fmt.Errorf("get IdleSinceHint: %w", err)
	}
	usec, ok := since.Value().(uint64)
	if !ok {
		return 0, fmt.Errorf("unexpected IdleSinceHint type %s", since.Signature())
	}
	return max(0, s.now().Sub(time.UnixMicro(int64(usec)))), nil
}

// Close closes the system bus connection.
func (s *LogindIdleSource) Close() error { return s.conn.Close() }

var hidIdleTime = regexp.MustCompile(`"HIDIdleTime"\s*=\s*([0-9]+)`)

// IORegIdleSource reads HIDIdleTime from ioreg on macOS.
type IORegIdleSource struct {
	run func(ctx context.Context) ([]byte, error)
}

// NewIORegIdleSource returns a source that shells out to ioreg.
func NewIORegIdleSource() *IORegIdleSource {
	return &IORegIdleSource{run: func(ctx context.Context) ([]byte, error) {
		return exec.CommandContext(ctx, "/usr/sbin/ioreg", "-c", "IOHIDSystem").Output()
	}}
}

// Name returns the source name.
func (s *IORegIdleSource) Name() string { return IdleSourceIOReg }

// Close is a no-op; every sample runs its own ioreg process.
func (s *IORegIdleSource) Close() error { return nil }

// IdleDuration parses the HIDIdleTime nanosecond counter.
func (s *IORegIdleSource) IdleDuration(ctx context.Context) (time.Duration, error) {
	out, err := s.run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run ioreg: %w", err)
	}
	return parseHIDIdleTime(out)
}

func parseHIDIdleTime(out []byte) (time.Duration, error) {
	match := hidIdleTime.FindSubmatch(out)
	if match == nil {
		return 0, fmt.Errorf("HIDIdleTime not found in ioreg output")
	}
	ns, err := strconv.ParseInt(string(match[1]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse HIDIdleTime: %w", err)
	}
	return time.Duration(ns), nil
}

const (
	login1Dest         = "org.freedesktop.login1"
	login1Path         = "/org/freedesktop/login1"
	login1ManagerIface = "org.freedesktop.login1.Manager"
	login1SessionIface = "org.freedesktop.login1.Session"
)

// sessionPath resolves the logind session object of the current process.
func sessionPath(ctx context.Context, conn *dbus.Conn) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	obj := conn.Object(login1Dest, login1Path)
	err := obj.CallWithContext(ctx, login1ManagerIface+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path)
	if err != nil {
		return "", fmt.Errorf("get session by pid: %w", err)
	}
	return path, nil
}
