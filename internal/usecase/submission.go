package usecase

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/example/audio-check/internal/failure"
	"github.com/example/audio-check/internal/interpreter"
	"github.com/example/audio-check/internal/logging"
	"github.com/example/audio-check/internal/metrics"
	"github.com/example/audio-check/internal/transport"
)

// State is the submission state surfaced to the presentation layer.
type State string

const (
	StateIdle       State = "idle"
	StateUploading  State = "uploading"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateError      State = "error"
)

var (
	// ErrSubmissionInFlight rejects a submit while another one is pending.
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	// ErrSubmissionAbandoned is returned to a submit whose view went away.
	ErrSubmissionAbandoned = errors.New("submission was abandoned")
)

// Submitter sends an upload; *transport.Client implements it.
type Submitter interface {
	Submit(ctx context.Context, req *transport.UploadRequest) transport.Outcome
}

// ResultInterpreter turns a raw body into a verdict; *interpreter.Interpreter implements it.
type ResultInterpreter interface {
	Interpret(raw []byte) (*interpreter.ClassificationResult, error)
}

// Presentation is what the results view receives on success.
type Presentation struct {
	FileName string
	Result   *interpreter.ClassificationResult
}

// Snapshot is the observable state of an Orchestrator.
type Snapshot struct {
	State    State
	FileName string
	Result   *interpreter.ClassificationResult
	Message  string
	Err      error
}

// Orchestrator runs one submission at a time through transport and
// interpretation and tracks idle → uploading → processing → done | error.
// Retries happen only inside the transport; a failed submission stays in
// the error state until the next Submit.
type Orchestrator struct {
	submitter Submitter
	interp    ResultInterpreter
	metrics   *metrics.Collectors
	logger    *zap.Logger

	mu         sync.Mutex
	snapshot   Snapshot
	generation uint64
	listener   func(Snapshot)
}

// NewOrchestrator returns an idle orchestrator.
func NewOrchestrator(submitter Submitter, interp ResultInterpreter, collectors *metrics.Collectors, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		submitter: submitter,
		interp:    interp,
		metrics:   collectors,
		logger:    logger.Named("orchestrator"),
		snapshot:  Snapshot{State: StateIdle},
	}
}

// OnChange registers fn to receive every state change. fn runs on the
// submitting goroutine and must not call back into Submit.
func (o *Orchestrator) OnChange(fn func(Snapshot)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listener = fn
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot
}

// Busy reports whether a submission is uploading or processing.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return busy(o.snapshot.State)
}

// Abandon detaches the listener and returns to idle. A pending submission
// keeps running but no longer changes state or notifies anyone.
func (o *Orchestrator) Abandon() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generation++
	o.listener = nil
	o.snapshot = Snapshot{State: StateIdle}
}

// Submit sends req and interprets the response. A nil req is a validation
// failure and never reaches the network.
func (o *Orchestrator) Submit(ctx context.Context, req *transport.UploadRequest) (*Presentation, error) {
	// The next state is claimed under the lock so a concurrent Submit sees
	// the orchestrator as busy.
	o.mu.Lock()
	if busy(o.snapshot.State) {
		o.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	o.generation++
	gen := o.generation
	var next Snapshot
	var validationErr error
	if req == nil {
		validationErr = failure.New(failure.Validation, "Please select a file.")
		next = Snapshot{State: StateError, Message: failure.UserMessage(validationErr), Err: validationErr}
	} else {
		next = Snapshot{State: StateUploading, FileName: req.Filename()}
	}
	o.snapshot = next
	listener := o.listener
	o.mu.Unlock()

	o.notify(listener, Snapshot{State: StateIdle})
	o.notify(listener, next)
	if validationErr != nil {
		return nil, validationErr
	}

	fileName := req.Filename()
	opLogger := logging.WithOperation(o.logger, "orchestrator.submit", "").With(zap.String("file_name", fileName))

	outcome := o.submitter.Submit(ctx, req)
	if !outcome.OK() {
		opLogger.Warn("upload failed", zap.Error(outcome.Failure))
		return nil, o.fail(gen, fileName, outcome.Failure)
	}
	if !o.transition(gen, Snapshot{State: StateProcessing, FileName: fileName}) {
		return nil, ErrSubmissionAbandoned
	}

	result, err := o.interp.Interpret(outcome.Raw)
	if err != nil {
		opLogger.Warn("response could not be interpreted", zap.Error(err))
		return nil, o.fail(gen, fileName, err)
	}
	if !o.transition(gen, Snapshot{State: StateDone, FileName: fileName, Result: result}) {
		return nil, ErrSubmissionAbandoned
	}
	opLogger.Info("submission complete",
		zap.Bool("authentic", result.IsAuthentic),
		zap.Float64("real_probability", result.RealProbability),
		zap.Float64("fake_probability", result.FakeProbability),
	)
	return &Presentation{FileName: fileName, Result: result}, nil
}

func (o *Orchestrator) fail(gen uint64, fileName string, err error) error {
	if !o.transition(gen, Snapshot{State: StateError, FileName: fileName, Message: failure.UserMessage(err), Err: err}) {
		return ErrSubmissionAbandoned
	}
	return err
}

// transition applies snap if gen is still current and reports whether it did.
func (o *Orchestrator) transition(gen uint64, snap Snapshot) bool {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return false
	}
	o.snapshot = snap
	listener := o.listener
	o.mu.Unlock()

	o.notify(listener, snap)
	return true
}

func (o *Orchestrator) notify(listener func(Snapshot), snap Snapshot) {
	o.metrics.ObserveState(string(snap.State))
	if listener != nil {
		listener(snap)
	}
}

func busy(s State) bool {
	return s == StateUploading || s == StateProcessing
}
