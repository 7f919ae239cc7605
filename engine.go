package patch

import (
	"fmt"

	"github.com/dudk/patch/backend"
	"github.com/dudk/patch/internal/rt"
	"github.com/dudk/patch/log"
	"github.com/dudk/patch/metric"
	"github.com/dudk/patch/signal"
	"github.com/rs/xid"
)

type (
	// Config holds the engine configuration. SampleRate, BlockSize and
	// Channels are required; zero capacity limits fall back to defaults.
	Config struct {
		SampleRate    int
		BlockSize     int
		Channels      int
		InputChannels int
		MaxNodes      int
		MaxEdges      int
		// Tempo in beats per minute drives the musical position.
		Tempo float64
		// EventBuffer is the capacity of the parameter event queue.
		EventBuffer int
	}

	// Engine owns an audio graph and renders it in blocks. The graph is
	// edited through commands on the control side while the render
	// callback keeps executing the latest compiled bundle: edits never
	// block rendering and rendering never observes a graph under edit.
	Engine struct {
		uid  string
		name string
		log  log.Logger

		backend backend.Backend
		handle  backend.Handle

		cfg     Config
		graph   *Graph
		outNode NodeID
		inNode  NodeID

		events      chan eventMessage
		compilec    chan compileSnapshot
		compiledc   chan compileResult
		compileDone chan struct{}
		gen         uint64
		seenGen     uint64
		compileErr  error

		// control-side view of the published bundle
		current *Bundle
		seekSeq uint64
		seekPos int64

		// render-side state, touched only by the render goroutine
		handoff     handoff
		transport   Transport
		ring        *rt.Ring
		evScratch   []rt.Event
		adopted     *Bundle
		adoptedSeek uint64
		droppedSeen uint64
		curIn       signal.Float64
		curOut      signal.Float64
		meter       *metric.Meter

		diag chan Diagnostic
	}

	// Option provides a way to set functional parameters to the engine.
	Option func(*Engine) error

	compileSnapshot struct {
		graph      *Graph
		sampleRate int
		blockSize  int
		tempo      float64
		gen        uint64
	}

	compileResult struct {
		bundle *Bundle
		gen    uint64
		err    error
	}
)

const (
	defaultMaxNodes    = 256
	defaultMaxEdges    = 1024
	defaultTempo       = 120
	defaultEventBuffer = 256
	diagBuffer         = 64
)

// New creates a new engine in unconfigured state and applies provided
// options.
func New(options ...Option) (*Engine, error) {
	e := &Engine{
		uid:         xid.New().String(),
		log:         log.GetLogger(),
		events:      make(chan eventMessage, 1),
		compilec:    make(chan compileSnapshot, 1),
		compiledc:   make(chan compileResult),
		compileDone: make(chan struct{}),
		diag:        make(chan Diagnostic, diagBuffer),
	}
	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}
	go e.loop()
	go e.compileLoop()
	return e, nil
}

// WithBackend injects the playback backend. Without a backend the engine
// can be configured and edited, but not started.
func WithBackend(b backend.Backend) Option {
	return func(e *Engine) error {
		e.backend = b
		return nil
	}
}

// WithLogger sets logger to the engine. If this option is not provided,
// the default logrus logger is used.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) error {
		e.log = logger
		return nil
	}
}

// WithName sets name to the engine.
func WithName(n string) Option {
	return func(e *Engine) error {
		e.name = n
		return nil
	}
}

// Convert engine to string. Name is included if it has value.
func (e *Engine) String() string {
	if e.name == "" {
		return e.uid
	}
	return fmt.Sprintf("%v %v", e.name, e.uid)
}

// Configure applies the configuration and moves the engine to configured
// state. Reconfiguring a suspended engine recompiles the graph against
// the new sample rate and block size with a fresh buffer pool.
func (e *Engine) Configure(cfg Config) error {
	errc := make(chan error, 1)
	e.events <- eventMessage{event: configure, cfg: cfg, target: target{errc: errc}}
	return Wait(errc)
}

// Start opens the backend and begins rendering.
// Calling this method after the engine is stopped causes a panic.
func (e *Engine) Start() chan error {
	errc := make(chan error, 1)
	e.events <- eventMessage{event: start, target: target{errc: errc}}
	return errc
}

// Suspend closes the backend but keeps the graph and compiled bundle.
// Calling this method after the engine is stopped causes a panic.
func (e *Engine) Suspend() chan error {
	errc := make(chan error, 1)
	e.events <- eventMessage{event: suspend, target: target{errc: errc}}
	return errc
}

// Resume reopens the backend of a suspended engine.
// Calling this method after the engine is stopped causes a panic.
func (e *Engine) Resume() chan error {
	errc := make(chan error, 1)
	e.events <- eventMessage{event: resume, target: target{errc: errc}}
	return errc
}

// Stop shuts the engine down: the backend handle is released, in-flight
// compilation is drained and the engine terminates. Terminated state is
// absorbing, any later call panics.
func (e *Engine) Stop() chan error {
	errc := make(chan error, 1)
	e.events <- eventMessage{event: stop, target: target{errc: errc}}
	return errc
}

// Wait for the event acknowledgment or first error to occur.
func Wait(d chan error) error {
	for err := range d {
		if err != nil {
			return err
		}
	}
	return nil
}

// Sync blocks until every structural edit issued so far has been
// compiled and, if valid, published to the render side. It returns the
// compile error of the latest graph generation, if any.
func (e *Engine) Sync() error {
	errc := make(chan error, 1)
	e.events <- eventMessage{event: synchronize, target: target{errc: errc}}
	return Wait(errc)
}

// syncCompiles serves pending compile results until the latest graph
// generation has been seen.
func (e *Engine) syncCompiles() error {
	for e.seenGen != e.gen {
		e.handleCompiled(<-e.compiledc)
	}
	return e.compileErr
}

// Apply executes a single command against the graph. The command either
// fully succeeds or the graph is left exactly as it was.
func (e *Engine) Apply(cmd Command) error {
	errc := make(chan error, 1)
	e.events <- eventMessage{event: command, cmd: cmd, target: target{errc: errc}}
	return Wait(errc)
}

// AddNode adds a processor to the graph and returns its identity.
func (e *Engine) AddNode(p Processor) (NodeID, error) {
	cmd := &AddNode{Proc: p}
	if err := e.Apply(cmd); err != nil {
		return 0, err
	}
	return cmd.ID, nil
}

// RemoveNode removes a node and all its edges.
func (e *Engine) RemoveNode(id NodeID) error {
	return e.Apply(RemoveNode{ID: id})
}

// Connect wires an output port to an input port.
func (e *Engine) Connect(source, dest PortRef, delay bool) error {
	return e.Apply(Connect{Source: source, Dest: dest, Delay: delay})
}

// Disconnect removes the edge between two ports.
func (e *Engine) Disconnect(source, dest PortRef) error {
	return e.Apply(Disconnect{Source: source, Dest: dest})
}

// SetParameter sets a named parameter value, applied at the start of the
// next block.
func (e *Engine) SetParameter(id NodeID, name string, value float64) error {
	return e.Apply(SetParameter{Node: id, Name: name, Value: value})
}

// Nodes enumerates the current graph nodes.
func (e *Engine) Nodes() []NodeInfo {
	var infos []NodeInfo
	e.inspect(func(g *Graph) {
		infos = g.Nodes()
	})
	return infos
}

// Edges enumerates the current graph edges.
func (e *Engine) Edges() []Edge {
	var edges []Edge
	e.inspect(func(g *Graph) {
		edges = g.Edges()
	})
	return edges
}

// Parameter returns the control-side value of a named parameter.
func (e *Engine) Parameter(id NodeID, name string) (float64, error) {
	var (
		v   float64
		err error
	)
	qerr := e.inspect(func(g *Graph) {
		v, err = g.Parameter(id, name)
	})
	if qerr != nil {
		return 0, qerr
	}
	return v, err
}

// Output returns the identity of the master output node. Its summing
// input is what the backend hears.
func (e *Engine) Output() NodeID {
	return e.outNode
}

// Input returns the identity of the backend input node, or zero if the
// engine is configured without input channels.
func (e *Engine) Input() NodeID {
	return e.inNode
}

// Transport returns the engine transport.
func (e *Engine) Transport() *Transport {
	return &e.transport
}

// Diagnostics exposes the out-of-band channel of render-tier fault
// reports. Delivery is best effort: reports are dropped when the channel
// is not drained.
func (e *Engine) Diagnostics() <-chan Diagnostic {
	return e.diag
}

// inspect runs fn on the control goroutine with exclusive graph access.
func (e *Engine) inspect(fn func(*Graph)) error {
	errc := make(chan error, 1)
	e.events <- eventMessage{event: query, fn: fn, target: target{errc: errc}}
	return Wait(errc)
}

// execute applies a command and, if it was structural, requests an
// asynchronous recompilation. The currently active bundle stays in force
// until the new one is published.
func (e *Engine) execute(cmd Command) error {
	if err := cmd.apply(e); err != nil {
		return err
	}
	if cmd.structural() {
		e.recompile()
	}
	return nil
}

// recompile snapshots the graph and hands it to the compiler goroutine.
// A snapshot still waiting to be compiled is superseded and discarded:
// only the most recent topology is worth compiling.
func (e *Engine) recompile() {
	e.gen++
	snap := compileSnapshot{
		graph:      e.graph.snapshot(),
		sampleRate: e.cfg.SampleRate,
		blockSize:  e.cfg.BlockSize,
		tempo:      e.cfg.Tempo,
		gen:        e.gen,
	}
	select {
	case <-e.compilec:
	default:
	}
	e.compilec <- snap
}

// compileLoop runs compilation outside the control loop, so graph edits
// keep flowing while a large graph compiles.
func (e *Engine) compileLoop() {
	defer close(e.compileDone)
	for snap := range e.compilec {
		s, p, err := compile(snap.graph, snap.blockSize)
		r := compileResult{gen: snap.gen, err: err}
		if err == nil {
			r.bundle = newBundle(s, p, snap.sampleRate, snap.blockSize, snap.tempo)
		}
		e.compiledc <- r
	}
}

// handleCompiled publishes a successful compile of the current graph
// generation. Stale results are discarded, failed ones are reported to
// the control context while the previous bundle remains authoritative.
func (e *Engine) handleCompiled(r compileResult) {
	if r.gen > e.seenGen {
		e.seenGen = r.gen
	}
	if r.gen != e.gen {
		e.log.Debug(fmt.Sprintf("%v discarded superseded compile", e))
		return
	}
	e.compileErr = r.err
	if r.err != nil {
		e.log.Info(fmt.Sprintf("%v compile failed: %v", e, r.err))
		return
	}
	b := r.bundle
	b.seekSeq = e.seekSeq
	b.seekPos = e.seekPos
	e.current = b
	e.handoff.publish(b)
	e.log.Debug(fmt.Sprintf("%v published bundle %v: %d steps, %d slots", e, b.id, len(b.schedule.steps), b.schedule.Slots()))
}

// applyConfig validates and installs the initial configuration.
func (e *Engine) applyConfig(cfg Config) error {
	if err := validateConfig(&cfg); err != nil {
		return err
	}
	e.cfg = cfg
	e.graph = NewGraph(cfg.MaxNodes, cfg.MaxEdges)
	e.ring = rt.NewRing(cfg.EventBuffer)
	e.evScratch = make([]rt.Event, e.ring.Cap())
	e.transport = Transport{
		sampleRate: cfg.SampleRate,
		blockSize:  cfg.BlockSize,
		tempo:      cfg.Tempo,
	}
	e.meter = metric.ForEngine(e.uid, cfg.SampleRate, cfg.BlockSize)
	if err := e.createTaps(); err != nil {
		return err
	}
	e.recompile()
	return nil
}

// reconfigure installs a new configuration on a non-running engine:
// full recompilation against the new block size and a fresh buffer pool.
func (e *Engine) reconfigure(cfg Config) error {
	if err := validateConfig(&cfg); err != nil {
		return err
	}
	retap := cfg.Channels != e.cfg.Channels || cfg.InputChannels != e.cfg.InputChannels
	e.cfg.SampleRate = cfg.SampleRate
	e.cfg.BlockSize = cfg.BlockSize
	e.cfg.Channels = cfg.Channels
	e.cfg.InputChannels = cfg.InputChannels
	e.cfg.Tempo = cfg.Tempo
	e.transport.sampleRate = cfg.SampleRate
	e.transport.blockSize = cfg.BlockSize
	e.transport.tempo = cfg.Tempo
	e.meter.Reconfigure(cfg.SampleRate, cfg.BlockSize)
	if retap {
		if e.outNode != 0 {
			_ = e.graph.RemoveNode(e.outNode)
		}
		if e.inNode != 0 {
			_ = e.graph.RemoveNode(e.inNode)
		}
		if err := e.createTaps(); err != nil {
			return err
		}
	}
	e.recompile()
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.SampleRate <= 0 || cfg.BlockSize <= 0 || cfg.Channels <= 0 {
		return fmt.Errorf("configure: sample rate, block size and channels are required: %w", ErrInvalidState)
	}
	if cfg.MaxNodes == 0 {
		cfg.MaxNodes = defaultMaxNodes
	}
	if cfg.MaxEdges == 0 {
		cfg.MaxEdges = defaultMaxEdges
	}
	if cfg.Tempo == 0 {
		cfg.Tempo = defaultTempo
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return nil
}

// createTaps installs the implicit nodes bridging the graph to the
// backend: the master output and, if configured, the backend input.
func (e *Engine) createTaps() error {
	out, err := e.graph.AddNode(&outputTap{e: e, channels: e.cfg.Channels})
	if err != nil {
		return err
	}
	e.outNode = out
	e.inNode = 0
	if e.cfg.InputChannels > 0 {
		in, err := e.graph.AddNode(&inputTap{e: e, channels: e.cfg.InputChannels})
		if err != nil {
			return err
		}
		e.inNode = in
	}
	return nil
}

// openBackend starts the render callback delivery.
func (e *Engine) openBackend() error {
	if e.backend == nil {
		return ErrNoBackend
	}
	h, err := e.backend.Open(backend.Config{
		SampleRate:    e.cfg.SampleRate,
		BlockSize:     e.cfg.BlockSize,
		Channels:      e.cfg.Channels,
		InputChannels: e.cfg.InputChannels,
	}, e.Render)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	e.handle = h
	return nil
}

// closeBackend releases the backend handle. The render callback is not
// invoked anymore once Close returns.
func (e *Engine) closeBackend() {
	if e.handle == nil {
		return
	}
	if err := e.handle.Close(); err != nil {
		e.log.Info(fmt.Sprintf("%v close backend: %v", e, err))
	}
	e.handle = nil
}

// shutdown drains the in-flight compilation and terminates the engine.
func (e *Engine) shutdown() {
	close(e.compilec)
	for {
		select {
		case <-e.compiledc:
		case <-e.compileDone:
			return
		}
	}
}

// outputTap is the implicit master output node: whatever reaches its
// summing input is what the backend plays.
type outputTap struct {
	e        *Engine
	channels int
}

func (t *outputTap) Spec() Spec {
	return Spec{
		Inputs: []PortSpec{{Channels: t.channels, Summing: true}},
	}
}

func (t *outputTap) Process(b Block) error {
	if t.e.curOut != nil {
		t.e.curOut.CopyFrom(b.Input[0])
	}
	return nil
}

// inputTap is the implicit backend input node exposing captured samples
// to the graph.
type inputTap struct {
	e        *Engine
	channels int
}

func (t *inputTap) Spec() Spec {
	return Spec{
		Outputs: []PortSpec{{Channels: t.channels}},
	}
}

func (t *inputTap) Process(b Block) error {
	b.Output[0].Clear()
	if t.e.curIn != nil {
		b.Output[0].CopyFrom(t.e.curIn)
	}
	return nil
}
