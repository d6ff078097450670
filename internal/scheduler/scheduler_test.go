package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/signcaption/internal/capture"
	"github.com/ayusman/signcaption/internal/detector"
	"gocv.io/x/gocv"
)

// recorder is a Renderer and HandSink that logs call order.
type recorder struct {
	mu     sync.Mutex
	events []string
	hands  int
}

func (r *recorder) Clear(*gocv.Mat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "clear")
}

func (r *recorder) DrawHand(*detector.Hand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "draw")
}

func (r *recorder) Present() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "present")
}

func (r *recorder) HandleHand(*detector.Hand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "sink")
	r.hands++
}

func (r *recorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out, r.hands
}

func newFrame(t *testing.T) *gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return &m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestScheduler(t *testing.T, frames []*gocv.Mat) (*Scheduler, *capture.MockCamera, *detector.MockDetector, *recorder) {
	t.Helper()
	cam := capture.NewMockCamera(frames, true)
	det := detector.NewMockDetector()
	rec := &recorder{}
	s := New(Config{
		Camera:   cam,
		Detector: det,
		Renderer: rec,
		Sink:     rec,
		Interval: time.Millisecond,
	})
	t.Cleanup(func() { s.Release() })
	return s, cam, det, rec
}

func TestState_String(t *testing.T) {
	tests := map[State]string{Idle: "idle", Armed: "armed", Running: "running", State(9): "state(9)"}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestArm(t *testing.T) {
	t.Run("requires a detector", func(t *testing.T) {
		s := New(Config{Camera: capture.NewMockCamera(nil, false)})
		if err := s.Arm(); !errors.Is(err, ErrDetectorInitFailed) {
			t.Errorf("Arm() error = %v, want ErrDetectorInitFailed", err)
		}
		if s.State() != Idle {
			t.Errorf("state = %v, want idle", s.State())
		}
	})

	t.Run("camera open failure stays idle", func(t *testing.T) {
		cam := capture.NewMockCamera(nil, false)
		cam.SetOpenError(errors.New("permission denied"))
		s := New(Config{Camera: cam, Detector: detector.NewMockDetector()})

		err := s.Arm()
		if !errors.Is(err, ErrCameraUnavailable) {
			t.Fatalf("Arm() error = %v, want ErrCameraUnavailable", err)
		}
		if s.State() != Idle {
			t.Errorf("state = %v, want idle", s.State())
		}
		if err := s.Start(); !errors.Is(err, ErrNotArmed) {
			t.Errorf("Start() after failed Arm error = %v, want ErrNotArmed", err)
		}
	})

	t.Run("arms once", func(t *testing.T) {
		s, cam, _, _ := newTestScheduler(t, nil)
		if err := s.Arm(); err != nil {
			t.Fatalf("Arm() error = %v", err)
		}
		if err := s.Arm(); err != nil {
			t.Fatalf("second Arm() error = %v", err)
		}
		if cam.Opens() != 1 {
			t.Errorf("camera opened %d times, want 1", cam.Opens())
		}
		if s.State() != Armed {
			t.Errorf("state = %v, want armed", s.State())
		}
	})
}

func TestStart_RequiresArm(t *testing.T) {
	s, _, det, _ := newTestScheduler(t, nil)

	if err := s.Start(); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("Start() error = %v, want ErrNotArmed", err)
	}
	time.Sleep(10 * time.Millisecond)
	if det.Calls() != 0 {
		t.Errorf("detector called %d times while idle", det.Calls())
	}
}

func TestStop_NoTickAfterReturn(t *testing.T) {
	s, _, det, _ := newTestScheduler(t, []*gocv.Mat{newFrame(t)})

	if err := s.Arm(); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}
	if err := s.SetActive(true); err != nil {
		t.Fatalf("SetActive(true) error = %v", err)
	}
	waitFor(t, "detector calls", func() bool { return det.Calls() >= 3 })

	if err := s.SetActive(false); err != nil {
		t.Fatalf("SetActive(false) error = %v", err)
	}
	if s.State() != Armed {
		t.Errorf("state after stop = %v, want armed", s.State())
	}

	calls := det.Calls()
	time.Sleep(20 * time.Millisecond)
	if got := det.Calls(); got != calls {
		t.Errorf("detector called after Stop returned: %d -> %d", calls, got)
	}

	// Restart continues from the armed state.
	if err := s.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	waitFor(t, "detector calls after restart", func() bool { return det.Calls() > calls })
}

func TestTimestamps_StrictlyIncreasing(t *testing.T) {
	s, _, det, _ := newTestScheduler(t, []*gocv.Mat{newFrame(t)})

	s.Arm()
	s.Start()
	waitFor(t, "detector calls", func() bool { return det.Calls() >= 10 })
	s.Stop()

	// A second run keeps increasing.
	s.Start()
	waitFor(t, "more detector calls", func() bool { return det.Calls() >= 15 })
	s.Stop()

	ts := det.Timestamps()
	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			t.Fatalf("timestamp %d (%d) not greater than previous (%d)", i, ts[i], ts[i-1])
		}
	}
}

func TestUndecodableFrames_SkipDetector(t *testing.T) {
	s, cam, det, _ := newTestScheduler(t, []*gocv.Mat{nil})

	s.Arm()
	s.Start()
	waitFor(t, "camera reads", func() bool { return cam.Reads() >= 5 })
	s.Stop()

	if det.Calls() != 0 {
		t.Errorf("detector called %d times for undecodable frames", det.Calls())
	}
	if s.State() != Armed {
		t.Errorf("state = %v, want armed", s.State())
	}
}

func TestHandsFanOut(t *testing.T) {
	s, _, det, rec := newTestScheduler(t, []*gocv.Mat{newFrame(t)})
	det.SetHands([]detector.Hand{detector.HelloLandmarks(), detector.YesLandmarks()})

	s.Arm()
	s.Start()
	waitFor(t, "hands", func() bool { _, n := rec.snapshot(); return n >= 4 })
	s.Stop()

	events, hands := rec.snapshot()
	if hands%2 != 0 {
		t.Errorf("both hands of a frame should be forwarded, got %d", hands)
	}
	// Each frame: clear, then draw and sink per hand, then present.
	want := []string{"clear", "draw", "sink", "draw", "sink", "present"}
	for i, ev := range want {
		if events[i] != ev {
			t.Fatalf("event %d = %q, want %q (events %v)", i, events[i], ev, events[:len(want)])
		}
	}
}

func TestNoHands_ClearsOverlay(t *testing.T) {
	s, _, det, rec := newTestScheduler(t, []*gocv.Mat{newFrame(t)})

	s.Arm()
	s.Start()
	waitFor(t, "detector calls", func() bool { return det.Calls() >= 2 })
	s.Stop()

	events, hands := rec.snapshot()
	if hands != 0 {
		t.Errorf("sink received %d hands, want 0", hands)
	}
	if len(events) < 2 || events[0] != "clear" || events[1] != "present" {
		t.Errorf("expected overlay to be cleared and presented, got %v", events)
	}
}

func TestDetectorFailure_DropsToIdle(t *testing.T) {
	s, cam, det, _ := newTestScheduler(t, []*gocv.Mat{newFrame(t)})
	boom := errors.New("inference crashed")
	det.SetError(boom)

	s.Arm()
	s.Start()

	select {
	case err := <-s.Errors():
		if !errors.Is(err, boom) {
			t.Errorf("reported error = %v, want %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for detector error")
	}

	// The failed run is observable as soon as the error is.
	if st := s.State(); st != Idle {
		t.Errorf("State() right after the error = %v, want idle", st)
	}
	if cam.IsOpen() {
		t.Error("camera should be released after detector failure")
	}
	if det.Calls() != 1 {
		t.Errorf("detector called %d times, want 1", det.Calls())
	}

	// Recovery requires a full restart.
	if err := s.Start(); !errors.Is(err, ErrNotArmed) {
		t.Errorf("Start() error = %v, want ErrNotArmed", err)
	}
	det.SetError(nil)
	if err := s.Arm(); err != nil {
		t.Fatalf("re-Arm() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	waitFor(t, "detector calls after restart", func() bool { return det.Calls() > 1 })
}

func TestCameraLost_DropsToIdle(t *testing.T) {
	s, cam, _, _ := newTestScheduler(t, []*gocv.Mat{newFrame(t)})

	s.Arm()
	s.Start()
	cam.Close()

	select {
	case err := <-s.Errors():
		if !errors.Is(err, ErrCameraReleased) {
			t.Errorf("reported error = %v, want ErrCameraReleased", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for camera error")
	}
	waitFor(t, "idle state", func() bool { return s.State() == Idle })
}

func TestRelease(t *testing.T) {
	s, cam, det, _ := newTestScheduler(t, []*gocv.Mat{newFrame(t)})

	s.Arm()
	s.Start()
	waitFor(t, "detector calls", func() bool { return det.Calls() >= 1 })

	if err := s.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want idle", s.State())
	}
	if cam.IsOpen() {
		t.Error("camera should be closed after Release")
	}

	calls := det.Calls()
	time.Sleep(10 * time.Millisecond)
	if det.Calls() != calls {
		t.Error("detector called after Release")
	}

	// Releasing twice is harmless.
	if err := s.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
