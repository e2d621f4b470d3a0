package monitor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/login1"
	"github.com/godbus/dbus/v5"
)

// SignalKind is a power or session-lock transition.
type SignalKind int

const (
	SignalSuspend SignalKind = iota + 1
	SignalResume
	SignalLock
	SignalUnlock
)

func (k SignalKind) String() string {
	switch k {
	case SignalSuspend:
		return "suspend"
	case SignalResume:
		return "resume"
	case SignalLock:
		return "lock"
	case SignalUnlock:
		return "unlock"
	}
	return fmt.Sprintf("SignalKind(%d)", int(k))
}

// Signal is one notification from a SignalSource.
type Signal struct {
	Kind SignalKind
	Time time.Time

	release func()
}

// Release tells the source the signal has been recorded. Power sources hold
// a delay inhibitor until then so the sleep event lands before suspend.
func (s Signal) Release() {
	if s.release != nil {
		s.release()
	}
}

// SignalSource delivers power and lock signals until ctx is done, then
// closes the channel.
type SignalSource interface {
	Name() string
	Watch(ctx context.Context) (<-chan Signal, error)
}

// Sleep source kinds accepted by NewSignalSource.
const (
	SleepSourcePower = "power"
	SleepSourceLock  = "lock"
)

// NewSignalSource returns the named signal source.
func NewSignalSource(kind string) (SignalSource, error) {
	switch kind {
	case SleepSourcePower:
		return &LogindPowerSource{}, nil
	case SleepSourceLock:
		return &LogindLockSource{}, nil
	}
	return nil, fmt.Errorf("unknown sleep source: %s", kind)
}

// LogindPowerSource watches logind's PrepareForSleep signal.
type LogindPowerSource struct{}

// Name returns the source name.
func (*LogindPowerSource) Name() string { return SleepSourcePower }

// Watch subscribes to PrepareForSleep. true means the system is about to
// suspend, false that it has resumed.
func (s *LogindPowerSource) Watch(ctx context.Context) (<-chan Signal, error) {
	conn, err := login1.New()
	if err != nil {
		return nil, fmt.Errorf("connect to logind: %w", err)
	}

	raw := conn.Subscribe("PrepareForSleep")
	inhibitor := acquireInhibitor(conn)
	out := make(chan Signal)

	go func() {
		defer close(out)
		defer conn.Close()
		defer func() {
			if inhibitor != nil {
				_ = inhibitor.Close()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-raw:
				if !ok {
					return
				}
				if len(sig.Body) == 0 {
					continue
				}
				suspending, ok := sig.Body[0].(bool)
				if !ok {
					continue
				}

				signal := Signal{Kind: SignalResume, Time: time.Now()}
				if suspending {
					held := inhibitor
					inhibitor = nil
					signal.Kind = SignalSuspend
					signal.release = func() {
						if held != nil {
							_ = held.Close()
						}
					}
				} else if inhibitor == nil {
					inhibitor = acquireInhibitor(conn)
				}

				select {
				case out <- signal:
				case <-ctx.Done():
					signal.Release()
					return
				}
			}
		}
	}()

	return out, nil
}

// acquireInhibitor takes a delay lock on sleep. Failure is not fatal: the
// signal still arrives, possibly after the suspend completed.
func acquireInhibitor(conn *login1.Conn) *os.File {
	f, err := conn.Inhibit("sleep", "timekeeper", "Record sleep start", "delay")
	if err != nil {
		return nil
	}
	return f
}

// LogindLockSource watches Lock and Unlock on this process's logind session.
type LogindLockSource struct{}

// Name returns the source name.
func (*LogindLockSource) Name() string { return SleepSourceLock }

// Watch subscribes to the session's Lock and Unlock signals.
func (s *LogindLockSource) Watch(ctx context.Context) (<-chan Signal, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	path, err := sessionPath(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(login1SessionIface),
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("add match: %w", err)
	}

	raw := make(chan *dbus.Signal, 10)
	conn.Signal(raw)
	out := make(chan Signal)

	go func() {
		defer close(out)
		defer func() { _ = conn.Close() }()
		defer conn.RemoveSignal(raw)

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-raw:
				if !ok {
					return
				}
				var kind SignalKind
				switch sig.Name {
				case login1SessionIface + ".Lock":
					kind = SignalLock
				case login1SessionIface + ".Unlock":
					kind = SignalUnlock
				default:
					continue
				}
				select {
				case out <- Signal{Kind: kind, Time: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
