package patch

import (
	"fmt"
)

// state identifies one of the possible states the engine can be in.
type state interface {
	listen(*Engine) state
	transition(*Engine, eventMessage) (state, error)
}

// states
type (
	idleUnconfigured struct{}
	idleConfigured   struct{}
	activeRunning    struct{}
	idleSuspended    struct{}
)

// states variables
var (
	unconfigured idleUnconfigured // Unconfigured means the engine awaits its configuration.
	configured   idleConfigured   // Configured means the engine can be started.
	running      activeRunning    // Running means the backend drives the render callback.
	suspended    idleSuspended    // Suspended means the backend is closed but the graph is kept.
)

// event identifies the type of event.
type event int

// types of events.
const (
	configure event = iota
	start
	stop
	suspend
	resume
	command
	query
	synchronize
)

// eventMessage is passed into the engine's event channel when the host
// does some action.
type eventMessage struct {
	event
	cfg Config
	cmd Command
	fn  func(*Graph)
	target
}

// target holds the channel used to acknowledge the event. All engine
// transitions complete synchronously, so the channel is served as soon as
// the event is handled.
type target struct {
	errc chan error
}

// dismiss closes the acknowledgment channel.
func (t target) dismiss() {
	if t.errc != nil {
		close(t.errc)
	}
}

// handle pushes an error into the acknowledgment channel. A panic happens
// if no channel is defined.
func (t target) handle(err error) {
	if t.errc != nil {
		t.errc <- err
		close(t.errc)
	} else {
		panic(err)
	}
}

// Convert the event to a string.
func (e event) String() string {
	switch e {
	case configure:
		return "configure"
	case start:
		return "start"
	case stop:
		return "stop"
	case suspend:
		return "suspend"
	case resume:
		return "resume"
	case command:
		return "command"
	case query:
		return "query"
	case synchronize:
		return "synchronize"
	}
	return "unknown"
}

// loop listens until nil state is returned. Nil state means the engine is
// terminated: its event channel is closed and every later call panics.
func (e *Engine) loop() {
	var s state = unconfigured
	for s != nil {
		s = s.listen(e)
		e.log.Debug(fmt.Sprintf("%v is %T", e, s))
	}
	close(e.events)
}

// listen serves events and compile results until a state change.
func (e *Engine) listen(s state) state {
	for {
		var newState state
		select {
		case msg := <-e.events:
			var err error
			newState, err = s.transition(e, msg)
			if err != nil {
				msg.target.handle(err)
			} else {
				msg.target.dismiss()
			}
		case r := <-e.compiledc:
			e.handleCompiled(r)
			newState = s
		}
		if newState != s {
			return newState
		}
	}
}

func (s idleUnconfigured) listen(e *Engine) state {
	return e.listen(s)
}

func (s idleUnconfigured) transition(e *Engine, msg eventMessage) (state, error) {
	switch msg.event {
	case configure:
		if err := e.applyConfig(msg.cfg); err != nil {
			return s, err
		}
		return configured, nil
	case stop:
		e.shutdown()
		return nil, nil
	}
	return s, ErrInvalidState
}

func (s idleConfigured) listen(e *Engine) state {
	return e.listen(s)
}

func (s idleConfigured) transition(e *Engine, msg eventMessage) (state, error) {
	switch msg.event {
	case configure:
		return s, e.reconfigure(msg.cfg)
	case start:
		if err := e.openBackend(); err != nil {
			return suspended, err
		}
		return running, nil
	case command:
		return s, e.execute(msg.cmd)
	case query:
		msg.fn(e.graph)
		return s, nil
	case synchronize:
		return s, e.syncCompiles()
	case stop:
		e.shutdown()
		return nil, nil
	}
	return s, ErrInvalidState
}

func (s activeRunning) listen(e *Engine) state {
	return e.listen(s)
}

func (s activeRunning) transition(e *Engine, msg eventMessage) (state, error) {
	switch msg.event {
	case command:
		return s, e.execute(msg.cmd)
	case query:
		msg.fn(e.graph)
		return s, nil
	case synchronize:
		return s, e.syncCompiles()
	case suspend:
		e.closeBackend()
		return suspended, nil
	case configure:
		// sample rate or block size change cannot happen under a
		// running backend: suspend, reconfigure, come back up.
		e.closeBackend()
		if err := e.reconfigure(msg.cfg); err != nil {
			return suspended, err
		}
		if err := e.openBackend(); err != nil {
			return suspended, err
		}
		return s, nil
	case stop:
		e.closeBackend()
		e.shutdown()
		return nil, nil
	}
	return s, ErrInvalidState
}

func (s idleSuspended) listen(e *Engine) state {
	return e.listen(s)
}

func (s idleSuspended) transition(e *Engine, msg eventMessage) (state, error) {
	switch msg.event {
	case resume:
		if err := e.openBackend(); err != nil {
			return s, err
		}
		return running, nil
	case configure:
		return s, e.reconfigure(msg.cfg)
	case command:
		return s, e.execute(msg.cmd)
	case query:
		msg.fn(e.graph)
		return s, nil
	case synchronize:
		return s, e.syncCompiles()
	case stop:
		e.shutdown()
		return nil, nil
	}
	return s, ErrInvalidState
}
