package ota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/homeapp-node/internal/event"
)

const (
	// MaxURLLen is the longest resolved image URL Start accepts.
	MaxURLLen = 256

	// ProgressStep is the minimum byte delta between two progress events.
	ProgressStep = 10 * 1024

	defaultRebootDelay = time.Second
)

// Logger defines the logging interface used by the sequencer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// discardSink drops every event.
type discardSink struct{}

func (discardSink) Send(event.Event) bool { return false }

// Options configures a Sequencer.
type Options struct {
	// BaseURL is joined with the image name passed to Start.
	BaseURL string

	// Topic is the OTA status topic used by PublishStatus.
	Topic string

	// Device is the six-hex-digit short id written to the "dev" field.
	Device string

	Updater    Updater
	Partitions Partitions
	Restarter  Restarter

	// Events receives progress and terminal events.
	Events event.Sink

	// Counter is incremented after every successful status publish. Optional.
	Counter SentCounter

	// RebootDelay is the pause between the terminal event and the restart.
	// Defaults to one second.
	RebootDelay time.Duration

	Logger Logger

	// Sleep replaces time.Sleep in tests.
	Sleep func(time.Duration)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Sequencer runs at most one firmware update session at a time.
//
// Start validates the request synchronously and hands the transfer to a
// session goroutine which walks the states from StateConnecting to either
// StateRebooting or StateAborted. Every session ends with exactly one
// terminal event (an OTA event with count zero), and the active flag is
// cleared at that point whether or not the queue accepted the event.
type Sequencer struct {
	opts   Options
	logger Logger

	active       atomic.Bool
	state        atomic.Int32
	observerOnce sync.Once
	wg           sync.WaitGroup

	mu        sync.Mutex
	running   string
	sessionID string
	image     string
	bytesRead int64
	lastErr   error
}

// New creates a Sequencer. Updater, Partitions and Restarter are required.
func New(opts Options) *Sequencer {
	if opts.RebootDelay <= 0 {
		opts.RebootDelay = defaultRebootDelay
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Events == nil {
		opts.Events = discardSink{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sequencer{
		opts:   opts,
		logger: logger,
	}
}

// SetLogger sets the logger for the sequencer.
func (s *Sequencer) SetLogger(logger Logger) {
	s.logger = logger
}

// Init reads the running image descriptor and returns its version.
func (s *Sequencer) Init() (string, error) {
	desc, err := s.opts.Partitions.Running()
	if err != nil {
		return "", fmt.Errorf("reading running image descriptor: %w", err)
	}
	version := desc.VersionString()

	s.mu.Lock()
	s.running = version
	s.mu.Unlock()

	s.logger.Info("running firmware", "version", version, "project", desc.ProjectString())
	return version, nil
}

// Start begins an update from BaseURL/imageName.
//
// It returns ErrEmptyImageName or ErrURLTooLong for a bad request and
// ErrAlreadyActive while another session runs; in those cases nothing
// is started. The session is detached from ctx cancellation.
func (s *Sequencer) Start(ctx context.Context, imageName string) error {
	if imageName == "" {
		return ErrEmptyImageName
	}
	url := strings.TrimRight(s.opts.BaseURL, "/") + "/" + imageName
	if len(url) > MaxURLLen {
		return fmt.Errorf("%w: %d bytes", ErrURLTooLong, len(url))
	}

	if !s.active.CompareAndSwap(false, true) {
		s.logger.Warn("ota update already running", "image", imageName)
		return ErrAlreadyActive
	}

	s.observerOnce.Do(s.registerObserver)

	id := uuid.NewString()
	s.mu.Lock()
	s.sessionID = id
	s.image = imageName
	s.bytesRead = 0
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("ota update starting", "session", id, "url", url)

	s.wg.Add(1)
	go s.run(context.WithoutCancel(ctx), id, url)
	return nil
}

// Active reports whether a session is running.
func (s *Sequencer) Active() bool { return s.active.Load() }

// State returns the current state of the state machine.
func (s *Sequencer) State() State { return State(s.state.Load()) }

// Wait blocks until the running session goroutine, if any, has returned.
func (s *Sequencer) Wait() { s.wg.Wait() }

// CancelRollback confirms the running image if it is still pending
// verification. It is a no-op otherwise and safe to call repeatedly.
func (s *Sequencer) CancelRollback() error {
	pending, err := s.opts.Partitions.RunningPendingVerify()
	if err != nil {
		return fmt.Errorf("reading running slot state: %w", err)
	}
	if !pending {
		return nil
	}
	if err := s.opts.Partitions.MarkRunningValid(); err != nil {
		return fmt.Errorf("marking running image valid: %w", err)
	}
	s.logger.Info("running image confirmed, rollback cancelled")
	return nil
}

func (s *Sequencer) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Sequencer) registerObserver() {
	n, ok := s.opts.Updater.(StageNotifier)
	if !ok {
		return
	}
	n.OnStage(func(stage Stage, detail int64) {
		switch stage {
		case StageWrite:
			s.logger.Debug("ota stage", "stage", stage.String(), "written", detail)
		case StageBootSlotUpdated:
			s.logger.Info("ota stage", "stage", stage.String(), "slot", detail)
		case StageAbort:
			s.logger.Warn("ota stage", "stage", stage.String())
		default:
			s.logger.Info("ota stage", "stage", stage.String())
		}
	})
}

// run is the session goroutine.
func (s *Sequencer) run(ctx context.Context, id, url string) {
	defer s.wg.Done()

	var endOnce sync.Once
	end := func() {
		endOnce.Do(func() {
			if !s.opts.Events.Send(event.OTAEnded()) {
				s.logger.Warn("event queue full, ota end event dropped", "session", id)
			}
			s.active.Store(false)
		})
	}

	// abort finishes a failed session. sess may be nil before Begin
	// succeeded or after Finish released it.
	abort := func(sess Session, cause error) {
		s.setState(StateAborted)
		s.recordError(cause)
		end()
		if sess != nil {
			if err := sess.Abort(); err != nil {
				s.logger.Warn("ota abort failed", "session", id, "error", err)
			}
		}
		// A new session may already own the state once end has run.
		s.state.CompareAndSwap(int32(StateAborted), int32(StateIdle))
	}

	s.setState(StateConnecting)
	sess, err := s.opts.Updater.Begin(ctx, url)
	if err != nil {
		s.logger.Error("ota begin failed", "session", id, "error", err)
		abort(nil, fmt.Errorf("beginning update: %w", err))
		return
	}

	s.setState(StateFetchingManifest)
	candidate, err := sess.ImageDescriptor()
	if err != nil {
		s.logger.Error("reading image descriptor failed", "session", id, "error", err)
		abort(sess, fmt.Errorf("reading image descriptor: %w", err))
		return
	}

	s.setState(StateValidatingManifest)
	if err := s.validate(candidate); err != nil {
		s.logger.Error("image rejected", "session", id, "version", candidate.VersionString(), "error", err)
		abort(sess, err)
		return
	}

	s.setState(StateStreaming)
	streamErr := s.stream(sess)

	s.setState(StateVerifyingComplete)
	if !sess.IsComplete() {
		s.logger.Error("complete image was not received", "session", id, "bytes", sess.BytesRead())
		abort(sess, ErrIncomplete)
		return
	}

	if streamErr != nil {
		s.logger.Error("ota upgrade failed", "session", id, "error", streamErr)
		abort(sess, streamErr)
		return
	}

	s.setState(StateCommitting)
	if err := sess.Finish(); err != nil {
		if errors.Is(err, ErrValidateFailed) {
			s.logger.Error("image validation failed, image is corrupted", "session", id)
		} else {
			s.logger.Error("ota upgrade failed", "session", id, "error", err)
		}
		// Finish has released the handle.
		abort(nil, err)
		return
	}

	s.setState(StateRebooting)
	s.logger.Info("ota upgrade successful, rebooting", "session", id, "version", candidate.VersionString())
	end()
	s.opts.Sleep(s.opts.RebootDelay)
	s.opts.Restarter.Restart()
}

// validate rejects a candidate whose version equals the running one.
func (s *Sequencer) validate(candidate Descriptor) error {
	running, err := s.opts.Partitions.Running()
	if err != nil {
		return fmt.Errorf("reading running image descriptor: %w", err)
	}
	s.logger.Info("image versions", "running", running.VersionString(), "candidate", candidate.VersionString())
	if candidate.Version == running.Version {
		return fmt.Errorf("%w: %s", ErrSameVersion, candidate.VersionString())
	}
	return nil
}

// stream drives Perform until the transfer leaves the in-progress state
// and returns the terminal Perform result. A progress event is emitted
// whenever ProgressStep bytes arrived since the last one, and once more
// with the final count when the loop ends.
func (s *Sequencer) stream(sess Session) error {
	var prev int64
	var err error
	for {
		err = sess.Perform()
		if !errors.Is(err, ErrInProgress) {
			break
		}
		n := sess.BytesRead()
		s.setBytes(n)
		if n-prev >= ProgressStep {
			s.emit(event.OTAProgress(n))
			prev = n
		}
	}
	n := sess.BytesRead()
	s.setBytes(n)
	s.emit(event.OTAProgress(n))
	return err
}

func (s *Sequencer) emit(ev event.Event) {
	if !s.opts.Events.Send(ev) {
		s.logger.Debug("event queue full, ota progress dropped", "bytes", ev.Count)
	}
}

func (s *Sequencer) setBytes(n int64) {
	s.mu.Lock()
	s.bytesRead = n
	s.mu.Unlock()
}

func (s *Sequencer) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
