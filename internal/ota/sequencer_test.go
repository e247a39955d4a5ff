package ota

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homeapp-node/internal/event"
)

// fakeSession scripts one transfer: chunks in-progress Perform calls of
// chunkSize bytes each, then performErr.
type fakeSession struct {
	desc       Descriptor
	descErr    error
	chunks     int
	chunkSize  int64
	performErr error
	complete   bool
	finishErr  error

	// release, when set, blocks the first Perform until closed.
	release chan struct{}
	// onAbort, when set, runs inside Abort.
	onAbort func()

	performs int
	read     int64
	finished int
	aborted  int
}

func (f *fakeSession) ImageDescriptor() (Descriptor, error) { return f.desc, f.descErr }

func (f *fakeSession) Perform() error {
	if f.release != nil && f.performs == 0 {
		<-f.release
	}
	f.performs++
	if f.performs <= f.chunks {
		f.read += f.chunkSize
		return ErrInProgress
	}
	return f.performErr
}

func (f *fakeSession) BytesRead() int64 { return f.read }
func (f *fakeSession) IsComplete() bool { return f.complete }

func (f *fakeSession) Finish() error {
	f.finished++
	return f.finishErr
}

func (f *fakeSession) Abort() error {
	f.aborted++
	if f.onAbort != nil {
		f.onAbort()
	}
	return nil
}

type fakeUpdater struct {
	mu        sync.Mutex
	sess      *fakeSession
	beginErr  error
	urls      []string
	observers int
	observer  StageObserver
}

func (u *fakeUpdater) Begin(_ context.Context, url string) (Session, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.urls = append(u.urls, url)
	if u.beginErr != nil {
		return nil, u.beginErr
	}
	if u.observer != nil {
		u.observer(StageStart, 0)
	}
	return u.sess, nil
}

func (u *fakeUpdater) OnStage(fn StageObserver) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.observers++
	u.observer = fn
}

func (u *fakeUpdater) beginCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.urls)
}

type fakePartitions struct {
	running    Descriptor
	runningErr error
	pending    bool
	pendingErr error
	markErr    error
	marks      int
}

func (p *fakePartitions) Running() (Descriptor, error) { return p.running, p.runningErr }
func (p *fakePartitions) RunningPendingVerify() (bool, error) { return p.pending, p.pendingErr }

func (p *fakePartitions) MarkRunningValid() error {
	if p.markErr != nil {
		return p.markErr
	}
	p.marks++
	p.pending = false
	return nil
}

type fakeRestarter struct{ restarts int }

func (r *fakeRestarter) Restart() { r.restarts++ }

type harness struct {
	seq     *Sequencer
	updater *fakeUpdater
	parts   *fakePartitions
	restart *fakeRestarter
	queue   *event.Queue
	sleeps  []time.Duration
}

func newHarness(sess *fakeSession) *harness {
	h := &harness{
		updater: &fakeUpdater{sess: sess},
		parts:   &fakePartitions{running: NewDescriptor("homeapp", "1.0.0")},
		restart: &fakeRestarter{},
		queue:   event.NewQueue(64, nil),
	}
	h.seq = New(Options{
		BaseURL:    "https://fw.example.com/images",
		Topic:      "home/boiler/aabbcc/otaupdate",
		Device:     "aabbcc",
		Updater:    h.updater,
		Partitions: h.parts,
		Restarter:  h.restart,
		Events:     h.queue,
		Sleep:      func(d time.Duration) { h.sleeps = append(h.sleeps, d) },
		Now:        func() time.Time { return time.Unix(1700000000, 0) },
	})
	return h
}

// counts drains the queue and returns the OTA byte counts in order.
func (h *harness) counts() []int64 {
	var out []int64
	for h.queue.Len() > 0 {
		ev, _ := h.queue.Receive(context.Background())
		out = append(out, ev.Count)
	}
	return out
}

func (h *harness) runSession(t *testing.T) {
	t.Helper()
	if err := h.seq.Start(context.Background(), "node.bin"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.seq.Wait()
}

func TestSequencer_Sessions(t *testing.T) {
	newVersion := NewDescriptor("homeapp", "1.1.0")

	tests := []struct {
		name        string
		beginErr    error
		sess        *fakeSession
		wantCounts  []int64
		wantFinish  int
		wantAbort   int
		wantRestart int
		wantState   State
		wantErr     error
	}{
		{
			name: "successful update reboots",
			sess: &fakeSession{
				desc: newVersion, chunks: 5, chunkSize: 4096, complete: true,
			},
			wantCounts:  []int64{12288, 20480, 0},
			wantFinish:  1,
			wantRestart: 1,
			wantState:   StateRebooting,
		},
		{
			name:       "begin failure",
			beginErr:   errors.New("tls handshake timeout"),
			sess:       &fakeSession{},
			wantCounts: []int64{0},
			wantState:  StateIdle,
		},
		{
			name:       "descriptor failure",
			sess:       &fakeSession{descErr: io.ErrUnexpectedEOF},
			wantCounts: []int64{0},
			wantAbort:  1,
			wantState:  StateIdle,
		},
		{
			name:       "same version",
			sess:       &fakeSession{desc: NewDescriptor("homeapp", "1.0.0"), chunks: 3, chunkSize: 4096, complete: true},
			wantCounts: []int64{0},
			wantAbort:  1,
			wantState:  StateIdle,
			wantErr:    ErrSameVersion,
		},
		{
			name:       "incomplete transfer",
			sess:       &fakeSession{desc: newVersion, chunks: 1, chunkSize: 4096, performErr: io.ErrUnexpectedEOF},
			wantCounts: []int64{4096, 0},
			wantAbort:  1,
			wantState:  StateIdle,
			wantErr:    ErrIncomplete,
		},
		{
			name:       "corrupt image",
			sess:       &fakeSession{desc: newVersion, chunks: 2, chunkSize: 4096, complete: true, finishErr: ErrValidateFailed},
			wantCounts: []int64{8192, 0},
			wantFinish: 1,
			wantState:  StateIdle,
			wantErr:    ErrValidateFailed,
		},
		{
			name:       "stream error after complete payload",
			sess:       &fakeSession{desc: newVersion, chunks: 3, chunkSize: 4096, complete: true, performErr: io.ErrClosedPipe},
			wantCounts: []int64{12288, 12288, 0},
			wantAbort:  1,
			wantState:  StateIdle,
			wantErr:    io.ErrClosedPipe,
		},
		{
			name:       "error before any data emits zero progress",
			sess:       &fakeSession{desc: newVersion, performErr: io.ErrUnexpectedEOF},
			wantCounts: []int64{0, 0},
			wantAbort:  1,
			wantState:  StateIdle,
			wantErr:    ErrIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.sess)
			h.updater.beginErr = tt.beginErr
			h.runSession(t)

			if got := h.counts(); !reflect.DeepEqual(got, tt.wantCounts) {
				t.Errorf("events = %v, want %v", got, tt.wantCounts)
			}
			if tt.sess.finished != tt.wantFinish {
				t.Errorf("Finish() calls = %d, want %d", tt.sess.finished, tt.wantFinish)
			}
			if tt.sess.aborted != tt.wantAbort {
				t.Errorf("Abort() calls = %d, want %d", tt.sess.aborted, tt.wantAbort)
			}
			if h.restart.restarts != tt.wantRestart {
				t.Errorf("restarts = %d, want %d", h.restart.restarts, tt.wantRestart)
			}
			if h.seq.Active() {
				t.Error("Active() = true after session ended")
			}
			if got := h.seq.State(); got != tt.wantState {
				t.Errorf("State() = %v, want %v", got, tt.wantState)
			}
			if tt.wantErr != nil {
				if got := h.seq.Status().LastError; !strings.Contains(got, tt.wantErr.Error()) {
					t.Errorf("Status().LastError = %q, want it to mention %q", got, tt.wantErr)
				}
			}
		})
	}
}

func TestSequencer_SameVersionNeverStreams(t *testing.T) {
	sess := &fakeSession{desc: NewDescriptor("homeapp", "1.0.0"), chunks: 3, chunkSize: 4096, complete: true}
	h := newHarness(sess)
	h.runSession(t)

	if sess.performs != 0 {
		t.Errorf("Perform() calls = %d, want 0", sess.performs)
	}
	if len(h.sleeps) != 0 {
		t.Errorf("reboot delay slept %v", h.sleeps)
	}
}

func TestSequencer_RebootDelay(t *testing.T) {
	h := newHarness(&fakeSession{desc: NewDescriptor("homeapp", "2.0.0"), complete: true})
	h.runSession(t)

	if !reflect.DeepEqual(h.sleeps, []time.Duration{time.Second}) {
		t.Errorf("sleeps = %v, want [1s]", h.sleeps)
	}
}

func TestSequencer_ProgressThrottle(t *testing.T) {
	sess := &fakeSession{desc: NewDescriptor("homeapp", "2.0.0"), chunks: 100, chunkSize: 1000, complete: true}
	h := newHarness(sess)
	h.runSession(t)

	counts := h.counts()
	if len(counts) < 3 {
		t.Fatalf("events = %v, want several progress events", counts)
	}
	if last := counts[len(counts)-1]; last != 0 {
		t.Errorf("last event = %d, want terminal 0", last)
	}
	if final := counts[len(counts)-2]; final != 100000 {
		t.Errorf("final progress = %d, want 100000", final)
	}

	var prev int64
	for _, c := range counts[:len(counts)-2] {
		if c-prev < ProgressStep {
			t.Errorf("progress %d only %d bytes after %d", c, c-prev, prev)
		}
		prev = c
	}
}

func TestSequencer_StartValidation(t *testing.T) {
	h := newHarness(&fakeSession{})

	if err := h.seq.Start(context.Background(), ""); !errors.Is(err, ErrEmptyImageName) {
		t.Errorf("Start(\"\") error = %v, want ErrEmptyImageName", err)
	}
	if err := h.seq.Start(context.Background(), strings.Repeat("a", MaxURLLen)); !errors.Is(err, ErrURLTooLong) {
		t.Errorf("Start(long) error = %v, want ErrURLTooLong", err)
	}

	h.seq.Wait()
	if h.updater.beginCalls() != 0 {
		t.Errorf("Begin() called %d times for rejected requests", h.updater.beginCalls())
	}
	if h.seq.Active() {
		t.Error("Active() = true after rejected requests")
	}
	if got := h.counts(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
}

func TestSequencer_URLJoin(t *testing.T) {
	h := newHarness(&fakeSession{desc: NewDescriptor("homeapp", "1.0.0")})
	h.seq.opts.BaseURL = "https://fw.example.com/images/"
	h.runSession(t)

	want := "https://fw.example.com/images/node.bin"
	if len(h.updater.urls) != 1 || h.updater.urls[0] != want {
		t.Errorf("Begin() urls = %v, want [%s]", h.updater.urls, want)
	}
}

func TestSequencer_AlreadyActive(t *testing.T) {
	release := make(chan struct{})
	sess := &fakeSession{
		desc: NewDescriptor("homeapp", "2.0.0"), chunks: 1, chunkSize: 100,
		complete: true, release: release,
	}
	h := newHarness(sess)

	if err := h.seq.Start(context.Background(), "node.bin"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !h.seq.Active() {
		t.Fatal("Active() = false after Start()")
	}
	if err := h.seq.Start(context.Background(), "other.bin"); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("second Start() error = %v, want ErrAlreadyActive", err)
	}

	close(release)
	h.seq.Wait()

	if n := h.updater.beginCalls(); n != 1 {
		t.Errorf("Begin() calls = %d, want 1", n)
	}
	if h.seq.Status().Image != "node.bin" {
		t.Errorf("Status().Image = %q, want node.bin", h.seq.Status().Image)
	}
	if h.seq.Active() {
		t.Error("Active() = true after session ended")
	}
}

func TestSequencer_AbortKeepsStateOfNextSession(t *testing.T) {
	release := make(chan struct{})
	next := &fakeSession{
		desc: NewDescriptor("homeapp", "2.0.0"), chunks: 1, chunkSize: 100,
		complete: true, release: release,
	}
	first := &fakeSession{desc: NewDescriptor("homeapp", "2.0.0"), chunks: 1, chunkSize: 100}
	h := newHarness(first)

	// The aborted session has already cleared Active when Abort runs,
	// so a second session starts and reaches Streaming meanwhile.
	first.onAbort = func() {
		h.updater.mu.Lock()
		h.updater.sess = next
		h.updater.mu.Unlock()
		if err := h.seq.Start(context.Background(), "next.bin"); err != nil {
			t.Errorf("Start() during abort error = %v", err)
			return
		}
		deadline := time.Now().Add(5 * time.Second)
		for h.seq.State() != StateStreaming {
			if time.Now().After(deadline) {
				t.Error("second session never reached Streaming")
				return
			}
			time.Sleep(time.Millisecond)
		}
	}

	// Run the first session on this goroutine so it has fully returned
	// before the state is checked.
	h.seq.active.Store(true)
	h.seq.wg.Add(1)
	h.seq.run(context.Background(), "first", "https://fw.example.com/images/node.bin")

	if first.aborted != 1 {
		t.Fatalf("Abort() calls = %d, want 1", first.aborted)
	}
	if got := h.seq.State(); got != StateStreaming {
		t.Errorf("State() after first abort = %v, want %v", got, StateStreaming)
	}
	if !h.seq.Active() {
		t.Error("Active() = false while the second session streams")
	}

	close(release)
	h.seq.Wait()

	if h.restart.restarts != 1 {
		t.Errorf("restarts = %d, want 1", h.restart.restarts)
	}
}

func TestSequencer_CancelledContextDoesNotStopSession(t *testing.T) {
	h := newHarness(&fakeSession{desc: NewDescriptor("homeapp", "2.0.0"), chunks: 2, chunkSize: 10, complete: true})

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.seq.Start(ctx, "node.bin"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()
	h.seq.Wait()

	if h.restart.restarts != 1 {
		t.Errorf("restarts = %d, want 1", h.restart.restarts)
	}
}

func TestSequencer_SaturatedQueueStillClearsActive(t *testing.T) {
	h := newHarness(&fakeSession{desc: NewDescriptor("homeapp", "2.0.0"), chunks: 30, chunkSize: 4096, complete: true})
	h.queue = event.NewQueue(1, nil)
	h.seq.opts.Events = h.queue
	h.queue.Send(event.Temperature(0, 21.5))

	h.runSession(t)

	if h.seq.Active() {
		t.Error("Active() = true with a saturated queue")
	}
	if h.queue.Dropped() == 0 {
		t.Error("Dropped() = 0, want dropped OTA events")
	}

	// A new session can start once the previous one ended.
	h.updater.sess = &fakeSession{desc: NewDescriptor("homeapp", "1.0.0")}
	h.runSession(t)
}

func TestSequencer_ObserverRegisteredOnce(t *testing.T) {
	h := newHarness(&fakeSession{desc: NewDescriptor("homeapp", "1.0.0")})
	h.runSession(t)
	h.updater.sess = &fakeSession{desc: NewDescriptor("homeapp", "1.0.0")}
	h.runSession(t)

	if h.updater.observers != 1 {
		t.Errorf("OnStage() calls = %d, want 1", h.updater.observers)
	}
}

func TestSequencer_CancelRollback(t *testing.T) {
	t.Run("pending image is confirmed once", func(t *testing.T) {
		h := newHarness(&fakeSession{})
		h.parts.pending = true

		for i := 0; i < 3; i++ {
			if err := h.seq.CancelRollback(); err != nil {
				t.Fatalf("CancelRollback() error = %v", err)
			}
		}
		if h.parts.marks != 1 {
			t.Errorf("MarkRunningValid() calls = %d, want 1", h.parts.marks)
		}
	})

	t.Run("valid image is left alone", func(t *testing.T) {
		h := newHarness(&fakeSession{})
		if err := h.seq.CancelRollback(); err != nil {
			t.Fatalf("CancelRollback() error = %v", err)
		}
		if h.parts.marks != 0 {
			t.Errorf("MarkRunningValid() calls = %d, want 0", h.parts.marks)
		}
	})

	t.Run("errors are wrapped", func(t *testing.T) {
		h := newHarness(&fakeSession{})
		h.parts.pending = true
		h.parts.markErr = io.ErrShortWrite
		if err := h.seq.CancelRollback(); !errors.Is(err, io.ErrShortWrite) {
			t.Errorf("CancelRollback() error = %v, want ErrShortWrite", err)
		}
	})
}

func TestSequencer_Init(t *testing.T) {
	h := newHarness(&fakeSession{})
	version, err := h.seq.Init()
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if version != "1.0.0" {
		t.Errorf("Init() = %q, want 1.0.0", version)
	}
	if got := h.seq.Status().RunningVersion; got != "1.0.0" {
		t.Errorf("Status().RunningVersion = %q", got)
	}

	h.parts.runningErr = io.EOF
	if _, err := h.seq.Init(); !errors.Is(err, io.EOF) {
		t.Errorf("Init() error = %v, want EOF", err)
	}
}

type publishCall struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

type mockPublisher struct {
	calls []publishCall
	err   error
}

func (p *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, publishCall{topic, string(payload), qos, retained})
	return nil
}

type countingSent struct{ n int }

func (c *countingSent) IncSent() { c.n++ }

func TestSequencer_PublishStatus(t *testing.T) {
	h := newHarness(&fakeSession{})
	counter := &countingSent{}
	h.seq.opts.Counter = counter

	pub := &mockPublisher{}
	if err := h.seq.PublishStatus(pub, event.OTAProgress(12288)); err != nil {
		t.Fatalf("PublishStatus() error = %v", err)
	}

	want := publishCall{
		topic:   "home/boiler/aabbcc/otaupdate",
		payload: `{"dev":"aabbcc","id":"otastatus","value":12288,"ts":1700000000}`,
	}
	if len(pub.calls) != 1 || pub.calls[0] != want {
		t.Errorf("published %+v, want %+v", pub.calls, want)
	}
	if counter.n != 1 {
		t.Errorf("sent count = %d, want 1", counter.n)
	}

	pub.err = errors.New("not connected")
	if err := h.seq.PublishStatus(pub, event.OTAEnded()); err == nil {
		t.Error("PublishStatus() error = nil, want error")
	}
	if counter.n != 1 {
		t.Errorf("sent count after failure = %d, want 1", counter.n)
	}
}

func TestDescriptor_Strings(t *testing.T) {
	d := NewDescriptor("homeapp", strings.Repeat("v", 40))
	if got := d.VersionString(); len(got) != VersionLen {
		t.Errorf("VersionString() length = %d, want %d", len(got), VersionLen)
	}
	if got := d.ProjectString(); got != "homeapp" {
		t.Errorf("ProjectString() = %q", got)
	}
}

func TestState_String(t *testing.T) {
	if got := StateVerifyingComplete.String(); got != "verifying_complete" {
		t.Errorf("String() = %q", got)
	}
	if got := State(42).String(); got != "unknown" {
		t.Errorf("State(42).String() = %q", got)
	}
}
