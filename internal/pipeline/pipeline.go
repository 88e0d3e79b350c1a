package pipeline

import (
	"log/slog"
	"path/filepath"
	"sync"
)

// DefaultConcurrency caps how many files of one task are processed at once.
const DefaultConcurrency = 32

// DefaultMaxChain bounds the number of links Rebuild follows for one change.
const DefaultMaxChain = 64

// Transform rewrites a file's content. ctx describes the file being processed
// and lets the transform declare extra input files.
type Transform func(content []byte, ctx *TaskContext) ([]byte, error)

// TaskDefinition is one registered pipeline stage.
type TaskDefinition struct {
	Sources   []string
	Transform Transform
	Staged    StagedDirective
}

// Options configures a Pipeline.
type Options struct {
	// Root is the source tree all task patterns are relative to.
	// Defaults to the working directory.
	Root string

	// Concurrency caps per-task fan-out. Zero selects DefaultConcurrency,
	// a negative value removes the cap.
	Concurrency int

	// MaxChain bounds incremental chain walks. Zero selects DefaultMaxChain.
	MaxChain int

	Logger   *slog.Logger
	Recorder Recorder
	IDs      IDGenerator
}

// Pipeline is an ordered task registry plus the state of its latest build.
//
// Thread-safety model:
//   - Task registration: safe from any goroutine, append-only
//   - Build: serialized with other builds and with incremental work
//   - Rebuild/BuildFile: may overlap each other; overlapping work on the same
//     chain is serialized by a per-chain lock
type Pipeline struct {
	root        string
	concurrency int
	maxChain    int
	logger      *slog.Logger
	recorder    Recorder
	ids         IDGenerator
	clock       *Clock

	mu    sync.RWMutex
	tasks []*TaskDefinition
	gen   *Generation

	// runMu is held exclusively by Build and shared by incremental work.
	runMu  sync.RWMutex
	chains keyedMutex
}

// New creates an empty pipeline.
func New(opts Options) *Pipeline {
	root := opts.Root
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	p := &Pipeline{
		root:        root,
		concurrency: opts.Concurrency,
		maxChain:    opts.MaxChain,
		logger:      opts.Logger,
		recorder:    opts.Recorder,
		ids:         opts.IDs,
		clock:       NewClock(),
		chains:      keyedMutex{locks: make(map[string]*chainLock)},
	}
	if p.concurrency == 0 {
		p.concurrency = DefaultConcurrency
	}
	if p.maxChain <= 0 {
		p.maxChain = DefaultMaxChain
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.recorder == nil {
		p.recorder = nopRecorder{}
	}
	if p.ids == nil {
		p.ids = UUIDv7Generator{}
	}
	return p
}

// Root returns the absolute source root.
func (p *Pipeline) Root() string {
	return p.root
}

// Task registers a new task matching the given glob patterns and returns a
// handle for configuring it. Patterns prefixed with "!" exclude paths.
func (p *Pipeline) Task(patterns ...string) *TaskHandle {
	sources := make([]string, 0, len(patterns))
	for _, pat := range patterns {
		sources = append(sources, normalizePattern(pat))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.tasks = append(p.tasks, &TaskDefinition{Sources: sources})
	return &TaskHandle{p: p, index: len(p.tasks) - 1}
}

// Tasks returns a snapshot of the registered tasks in order.
func (p *Pipeline) Tasks() []TaskDefinition {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]TaskDefinition, len(p.tasks))
	for i, t := range p.tasks {
		out[i] = *t
		out[i].Sources = append([]string(nil), t.Sources...)
	}
	return out
}

// Validate checks the patterns of every registered task without building.
func (p *Pipeline) Validate() error {
	for i, t := range p.Tasks() {
		if err := validatePatterns(i, t.Sources); err != nil {
			return err
		}
	}
	return nil
}

// Generation returns the current generation, or nil before the first build.
func (p *Pipeline) Generation() *Generation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gen
}

func (p *Pipeline) task(index int) TaskDefinition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.tasks[index]
}

func (p *Pipeline) taskCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tasks)
}

// TaskHandle configures a registered task in place.
type TaskHandle struct {
	p     *Pipeline
	index int
}

// Index returns the task's position in the registry.
func (h *TaskHandle) Index() int {
	return h.index
}

// Transform sets the task's transform.
func (h *TaskHandle) Transform(fn Transform) *TaskHandle {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	h.p.tasks[h.index].Transform = fn
	return h
}

// Staged routes the task's output into the content store instead of the
// output tree. A nil directive means Keep.
func (h *TaskHandle) Staged(d StagedDirective) *TaskHandle {
	if d == nil {
		d = Keep()
	}
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	h.p.tasks[h.index].Staged = d
	return h
}
