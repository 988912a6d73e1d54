package daemon

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/eudore/tinyhttpd"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// State is the supervisor lifecycle state.
type State int32

// Supervisor states.
const (
	StateStarting State = iota
	StateRunning
	StateReloading
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReloading:
		return "reloading"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// WorkerFunc prepares worker id with conf and returns the function running it.
//
// Resources such as the listener are acquired before WorkerFunc returns;
// the run function returns once ctx is done and the worker has finished.
type WorkerFunc func(ctx context.Context, id int, conf *tinyhttpd.Config) (func() error, error)

type worker struct {
	id     int
	cancel context.CancelFunc
}

type workerExit struct {
	id  int
	err error
}

// Supervisor keeps a pool of workers running.
//
// All pool changes happen in the control loop of [Supervisor.Run]:
// signals, worker exits and configuration changes arrive as messages
// and are handled one at a time.
type Supervisor struct {
	Config *tinyhttpd.Config
	Logger tinyhttpd.Logger
	Worker WorkerFunc
	// Command owns the pid file; nil runs without one.
	Command *Command
	// Load reads the configuration again on reload; nil keeps Config.
	Load func() (*tinyhttpd.Config, error)
	// Handoff starts the process taking over in handoff reload mode.
	Handoff func() (int, error)
	// Signal relays OS signals; nil uses [NewSignal].
	Signal *Signal
	// Gauge, if set, follows the active worker count.
	Gauge prometheus.Gauge
	// Parent is the pid of a supervisor handing off to this one.
	Parent int

	state       atomic.Int32
	active      atomic.Int32
	starts      atomic.Int64
	fingerprint string
	terminate   bool
	target      int
	nextID      int
	pool        map[int]*worker
	retiring    map[int]*worker
	events      chan Event
	exits       chan workerExit
	done        chan struct{}
	limiter     *rate.Limiter
	refill      *time.Timer
	refillC     <-chan time.Time
	notify      <-chan struct{}
}

// NewSupervisor creates a [Supervisor] with a pid file command from conf.
func NewSupervisor(conf *tinyhttpd.Config, log tinyhttpd.Logger, fn WorkerFunc) *Supervisor {
	if log == nil {
		log = tinyhttpd.DefaultLoggerNull
	}
	return &Supervisor{
		Config:  conf,
		Logger:  log,
		Worker:  fn,
		Command: NewCommand(CommandStart, conf.Pidfile),
		Handoff: Handoff,
		Parent:  ParentPID(),
		events:  make(chan Event, 4),
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Workers returns the number of active workers, retiring workers excluded.
func (s *Supervisor) Workers() int {
	return int(s.active.Load())
}

// Starts returns the number of workers started so far.
func (s *Supervisor) Starts() int {
	return int(s.starts.Load())
}

// Trigger queues e for the control loop, as if the mapped signal arrived.
func (s *Supervisor) Trigger(e Event) {
	s.events <- e
}

// Run starts the workers and runs the control loop until a terminate signal
// or ctx is done.
//
// A pid file conflict or a worker failing to start returns
// [*tinyhttpd.SupervisorFatalError] before serving. Worker errors seen during
// shutdown are returned as [*tinyhttpd.Errors]. The pid file is removed on
// every return path if it still names this process.
func (s *Supervisor) Run(ctx context.Context) error {
	s.init()
	s.setState(StateStarting)
	defer s.setState(StateStopped)
	defer close(s.done)

	if s.Command != nil {
		stale, err := s.Command.Acquire(s.Parent)
		if err != nil {
			return &tinyhttpd.SupervisorFatalError{Op: "pidfile", Err: err}
		}
		if stale != 0 {
			s.Logger.Warningf("pidfile %s names stale process %d, overwritten", s.Command.Pidfile, stale)
		}
		defer s.release()
	}
	if s.Signal == nil {
		s.Signal = NewSignal()
		s.Signal.Notify()
		defer s.Signal.Stop()
	}
	s.fingerprint = s.readFingerprint()
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	s.notify = s.watch(watchCtx)
	var tick <-chan time.Time
	if s.Config.ReloadInterval > 0 {
		ticker := time.NewTicker(s.Config.ReloadInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := 0; i < s.target; i++ {
		if err := s.spawn(s.Config); err != nil {
			s.shutdown()
			return &tinyhttpd.SupervisorFatalError{Op: "listen", Err: err}
		}
	}
	if s.Parent != 0 {
		s.Logger.Infof("handoff from parent process %d", s.Parent)
		if err := stopParent(s.Parent); err != nil {
			s.Logger.Error(err)
		}
	}
	s.setState(StateRunning)

	for !s.terminate {
		select {
		case <-ctx.Done():
			s.Logger.Info("supervisor context done")
			s.terminate = true
		case sig := <-s.Signal.Chan:
			e, ok := s.Signal.Event(sig)
			s.Logger.Infof("accept signal: %s", sig)
			if ok {
				s.handle(e)
			}
		case e := <-s.events:
			s.handle(e)
		case ex := <-s.exits:
			s.reap(ex)
		case _, ok := <-s.notify:
			if !ok {
				s.notify = nil
				break
			}
			s.checkFingerprint()
		case <-tick:
			s.checkFingerprint()
		case <-s.refillC:
			s.refill, s.refillC = nil, nil
		}
		if !s.terminate {
			s.fill()
		}
	}

	s.setState(StateTerminating)
	return s.shutdown()
}

func (s *Supervisor) init() {
	s.pool = make(map[int]*worker)
	s.retiring = make(map[int]*worker)
	s.exits = make(chan workerExit)
	s.done = make(chan struct{})
	if s.events == nil {
		s.events = make(chan Event, 4)
	}
	if s.Logger == nil {
		s.Logger = tinyhttpd.DefaultLoggerNull
	}
	s.target = s.Config.Workers
	s.limiter = newLimiter(s.Config)
}

func newLimiter(conf *tinyhttpd.Config) *rate.Limiter {
	if conf.RestartRate <= 0 {
		return rate.NewLimiter(rate.Inf, conf.MaxWorkers)
	}
	return rate.NewLimiter(rate.Every(conf.RestartRate), conf.MaxWorkers)
}

func (s *Supervisor) handle(e Event) {
	switch e {
	case EventTerminate:
		s.terminate = true
	case EventReload:
		s.reload()
	case EventBusy:
		if s.target >= s.Config.MaxWorkers {
			s.Logger.Infof("busy ignored, workers at max %d", s.Config.MaxWorkers)
			return
		}
		s.target++
		s.Logger.Infof("busy, grow workers to %d", s.target)
	}
}

// fill starts workers until the pool reaches its target, as fast as the
// restart limiter allows.
func (s *Supervisor) fill() {
	for len(s.pool) < s.target && s.refill == nil {
		r := s.limiter.Reserve()
		if d := r.Delay(); d > 0 {
			r.Cancel()
			s.wait(d)
			return
		}
		if err := s.spawn(s.Config); err != nil {
			s.Logger.Errorf("start worker error: %v", err)
			s.wait(s.Config.RestartRate)
			return
		}
	}
}

func (s *Supervisor) wait(d time.Duration) {
	if d <= 0 {
		d = tinyhttpd.DefaultRestartRate
	}
	s.refill = time.NewTimer(d)
	s.refillC = s.refill.C
}

func (s *Supervisor) spawn(conf *tinyhttpd.Config) error {
	s.nextID++
	id := s.nextID
	ctx, cancel := context.WithCancel(context.Background())
	run, err := s.Worker(ctx, id, conf)
	if err != nil {
		cancel()
		return err
	}
	s.start(&worker{id: id, cancel: cancel}, run)
	return nil
}

func (s *Supervisor) start(w *worker, run func() error) {
	s.pool[w.id] = w
	s.starts.Add(1)
	s.updateActive()
	s.Logger.WithField(tinyhttpd.LoggerFieldWorker, w.id).Info("worker started")
	go func() {
		err := run()
		select {
		case s.exits <- workerExit{w.id, err}:
		case <-s.done:
		}
	}()
}

func (s *Supervisor) reap(ex workerExit) {
	log := s.Logger.WithField(tinyhttpd.LoggerFieldWorker, ex.id).WithField("logger", true)
	if w, ok := s.retiring[ex.id]; ok {
		w.cancel()
		delete(s.retiring, ex.id)
		log.Info("worker retired")
		return
	}
	w, ok := s.pool[ex.id]
	if !ok {
		return
	}
	w.cancel()
	delete(s.pool, ex.id)
	s.updateActive()
	if ex.err != nil {
		log.Errorf("worker exited: %v", ex.err)
	} else {
		log.Warning("worker exited")
	}
}

// reload replaces the pool with one worker built from the reloaded
// configuration. The old workers finish their connection in background and
// are not counted as active. On failure the old workers keep running.
//
// The target drops to one, so the pool grows again only on busy events.
func (s *Supervisor) reload() {
	s.setState(StateReloading)
	defer s.setState(StateRunning)
	s.fingerprint = s.readFingerprint()

	conf := s.Config
	if s.Load != nil {
		c, err := s.Load()
		if err != nil {
			s.Logger.Errorf("reload config error: %v", err)
			return
		}
		conf = c
	}

	if conf.ReloadMode == tinyhttpd.ReloadHandoff && s.Handoff != nil {
		pid, err := s.Handoff()
		if err != nil {
			s.Logger.Errorf("reload handoff error: %v", err)
			return
		}
		s.Logger.Infof("reload handoff to process %d", pid)
		return
	}

	s.nextID++
	id := s.nextID
	ctx, cancel := context.WithCancel(context.Background())
	run, err := s.Worker(ctx, id, conf)
	if err != nil {
		cancel()
		s.Logger.Errorf("reload start worker error: %v", err)
		return
	}
	for wid, w := range s.pool {
		w.cancel()
		s.retiring[wid] = w
		delete(s.pool, wid)
	}
	s.Config = conf
	s.target = 1
	s.limiter = newLimiter(conf)
	s.start(&worker{id: id, cancel: cancel}, run)
	s.Logger.Infof("reload done, %d workers retiring", len(s.retiring))
}

// shutdown cancels every worker and waits for them up to ShutdownTimeout.
func (s *Supervisor) shutdown() error {
	for id, w := range s.pool {
		w.cancel()
		s.retiring[id] = w
		delete(s.pool, id)
	}
	s.updateActive()
	if s.refill != nil {
		s.refill.Stop()
	}

	timeout := s.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = tinyhttpd.DefaultShutdownTimeout
	}
	errs := tinyhttpd.NewErrors()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for len(s.retiring) > 0 {
		select {
		case ex := <-s.exits:
			errs.HandleError(ex.err)
			s.reap(ex)
		case <-timer.C:
			errs.HandleError(fmt.Errorf("shutdown timeout, %d workers still running", len(s.retiring)))
			s.Logger.Warningf("shutdown timeout, %d workers still running", len(s.retiring))
			return errs.GetError()
		}
	}
	return errs.GetError()
}

func (s *Supervisor) release() {
	if err := s.Command.Release(); err != nil {
		s.Logger.Errorf("remove pidfile error: %v", err)
	}
}

func (s *Supervisor) checkFingerprint() {
	fp := s.readFingerprint()
	if fp == "" || fp == s.fingerprint {
		return
	}
	s.Logger.Infof("config file %s changed", s.Config.ConfigPath)
	s.reload()
}

func (s *Supervisor) readFingerprint() string {
	if s.Config.ConfigPath == "" {
		return ""
	}
	fp, err := Fingerprint(s.Config.ConfigPath)
	if err != nil {
		s.Logger.Warningf("config fingerprint error: %v", err)
		return ""
	}
	return fp
}

func (s *Supervisor) watch(ctx context.Context) <-chan struct{} {
	if !s.Config.ReloadWatch || s.Config.ConfigPath == "" {
		return nil
	}
	ch, err := Watch(ctx, s.Config.ConfigPath, s.Logger)
	if err != nil {
		s.Logger.Errorf("watch config file error: %v", err)
		return nil
	}
	return ch
}

func (s *Supervisor) setState(state State) {
	s.state.Store(int32(state))
	s.Logger.WithFields(
		[]string{tinyhttpd.LoggerFieldState, tinyhttpd.LoggerFieldPid},
		[]any{state.String(), os.Getpid()},
	).Info("supervisor state")
}

func (s *Supervisor) updateActive() {
	s.active.Store(int32(len(s.pool)))
	if s.Gauge != nil {
		s.Gauge.Set(float64(len(s.pool)))
	}
}
