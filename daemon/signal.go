package daemon

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Event is a supervisor control message.
type Event int

// Supervisor events.
const (
	EventTerminate Event = iota + 1
	EventReload
	EventBusy
)

func (e Event) String() string {
	switch e {
	case EventTerminate:
		return "terminate"
	case EventReload:
		return "reload"
	case EventBusy:
		return "busy"
	}
	return "unknown"
}

// Signal maps [os.Signal] to supervisor events.
//
// Signals are received on Chan and handled by the supervisor control loop,
// one at a time.
type Signal struct {
	sync.Mutex
	Chan   chan os.Signal
	Events map[os.Signal]Event
}

// NewSignal creates a [Signal] with the default mapping:
// SIGTERM, SIGINT and SIGQUIT terminate, SIGHUP reloads, SIGUSR1 grows the pool.
func NewSignal() *Signal {
	sig := &Signal{
		Chan:   make(chan os.Signal, 8),
		Events: make(map[os.Signal]Event),
	}
	sig.Register(syscall.SIGTERM, EventTerminate)
	sig.Register(syscall.SIGINT, EventTerminate)
	sig.Register(syscall.SIGQUIT, EventTerminate)
	sig.Register(syscall.SIGHUP, EventReload)
	sig.Register(syscall.SIGUSR1, EventBusy)
	return sig
}

// Register maps s to e. A zero e removes the mapping.
func (sig *Signal) Register(s os.Signal, e Event) {
	sig.Lock()
	defer sig.Unlock()
	if e == 0 {
		delete(sig.Events, s)
	} else {
		sig.Events[s] = e
	}
}

// Event returns the event of s.
func (sig *Signal) Event(s os.Signal) (Event, bool) {
	sig.Lock()
	defer sig.Unlock()
	e, ok := sig.Events[s]
	return e, ok
}

// Notify starts relaying the registered signals to Chan.
func (sig *Signal) Notify() {
	sig.Lock()
	defer sig.Unlock()
	sigs := make([]os.Signal, 0, len(sig.Events))
	for key := range sig.Events {
		sigs = append(sigs, key)
	}
	signal.Stop(sig.Chan)
	if len(sigs) > 0 {
		signal.Notify(sig.Chan, sigs...)
	}
}

// Stop stops relaying signals.
func (sig *Signal) Stop() {
	signal.Stop(sig.Chan)
}
