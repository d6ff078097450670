package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/ayusman/signcaption/internal/capture"
	"github.com/ayusman/signcaption/internal/detector"
	"github.com/ayusman/signcaption/internal/predictor"
	"github.com/ayusman/signcaption/internal/scheduler"
	"github.com/ayusman/signcaption/internal/store"
	"github.com/ayusman/signcaption/internal/transport"
)

type testEnv struct {
	app *App
	cam *capture.MockCamera
	det *detector.MockDetector
	st  *store.Store
}

func newPredictorServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(predictor.NewHandler(predictor.GeometryModel{}, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + predictor.Path
}

func newTestEnv(t *testing.T, endpoint string) *testEnv {
	t.Helper()

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { frame.Close() })

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cam := capture.NewMockCamera([]*gocv.Mat{&frame}, true)
	det := detector.NewMockDetector()
	a := New(Config{
		Camera:         cam,
		Detector:       det,
		Store:          st,
		Endpoint:       endpoint,
		ConnectTimeout: time.Second,
		Interval:       time.Millisecond,
		TypingWindow:   50 * time.Millisecond,
	})
	return &testEnv{app: a, cam: cam, det: det, st: st}
}

func runApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
		a.Close()
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestApp_HandToCaption(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := newTestEnv(t, newPredictorServer(t))
	env.det.SetHands([]detector.Hand{detector.HelloLandmarks()})
	runApp(t, env.app)

	waitFor(t, "predictor connection", func() bool {
		return env.app.Transport().State() == transport.Open
	})

	if err := env.app.SetActive(true); err != nil {
		t.Fatalf("SetActive(true) error = %v", err)
	}

	waitFor(t, "caption", func() bool {
		snap, err := env.app.Caption().Snapshot(context.Background())
		return err == nil && snap.Text == "Hello"
	})

	st := env.app.Status()
	if !st.Active || st.Scheduler != "running" || st.Connection != "open" {
		t.Errorf("unexpected status %+v", st)
	}
	if st.LastGesture != "Hello" {
		t.Errorf("LastGesture = %q, want Hello", st.LastGesture)
	}
	if st.Session == "" {
		t.Fatal("expected a history session while active")
	}

	// The same token repeated every frame is appended once.
	time.Sleep(50 * time.Millisecond)
	snap, _ := env.app.Caption().Snapshot(context.Background())
	if len(snap.Words) != 1 {
		t.Errorf("expected one word, got %v", snap.Words)
	}

	if err := env.app.SetActive(false); err != nil {
		t.Fatalf("SetActive(false) error = %v", err)
	}
	if env.cam.IsOpen() {
		t.Error("camera should be released after deactivation")
	}

	session, err := env.st.Sessions().GetByID(st.Session)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if session.EndedAt == nil {
		t.Error("session should be ended")
	}
	transcript, err := env.st.Tokens().Transcript(st.Session)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if transcript != "Hello" {
		t.Errorf("Transcript() = %q, want Hello", transcript)
	}
}

func TestApp_UnknownPoseNeverReachesCaption(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := newTestEnv(t, newPredictorServer(t))

	// Index finger only: the predictor answers "?".
	hand := detector.NoLandmarks()
	hand.Points[detector.IndexTip] = detector.Point3D{X: 0.55, Y: 0.40}
	env.det.SetHands([]detector.Hand{hand})
	runApp(t, env.app)

	waitFor(t, "predictor connection", func() bool {
		return env.app.Transport().State() == transport.Open
	})
	if err := env.app.SetActive(true); err != nil {
		t.Fatalf("SetActive(true) error = %v", err)
	}
	waitFor(t, "frames", func() bool { return env.det.Calls() > 10 })

	snap, err := env.app.Caption().Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Text != "" {
		t.Errorf("caption = %q, want empty", snap.Text)
	}
}

func TestApp_CameraUnavailable(t *testing.T) {
	env := newTestEnv(t, "ws://127.0.0.1:1/ws/predict")
	env.cam.SetOpenError(errors.New("device busy"))

	err := env.app.SetActive(true)
	if !errors.Is(err, scheduler.ErrCameraUnavailable) {
		t.Fatalf("SetActive(true) error = %v, want ErrCameraUnavailable", err)
	}

	st := env.app.Status()
	if st.Active || st.Scheduler != "idle" || st.Session != "" {
		t.Errorf("unexpected status after failed start: %+v", st)
	}
	if env.det.Calls() != 0 {
		t.Error("detector must not run without a camera")
	}
}

func TestApp_DetectorFailureEndsSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := newTestEnv(t, "ws://127.0.0.1:1/ws/predict")
	env.det.SetError(errors.New("model crashed"))
	runApp(t, env.app)

	if err := env.app.SetActive(true); err != nil {
		t.Fatalf("SetActive(true) error = %v", err)
	}

	waitFor(t, "scheduler idle", func() bool {
		st := env.app.Status()
		return st.Scheduler == "idle" && st.Session == ""
	})
	if env.cam.IsOpen() {
		t.Error("camera should be released after detector failure")
	}

	sessions, err := env.st.Sessions().List(10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].EndedAt == nil {
		t.Error("session should be ended after detector failure")
	}
}

func TestApp_RestartAfterDetectorFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := newTestEnv(t, "ws://127.0.0.1:1/ws/predict")
	env.det.SetError(errors.New("model crashed"))
	runApp(t, env.app)

	if err := env.app.SetActive(true); err != nil {
		t.Fatalf("SetActive(true) error = %v", err)
	}
	waitFor(t, "detector call", func() bool { return env.det.Calls() >= 1 })
	waitFor(t, "failed run", func() bool { return !env.app.Active() })

	// Switching detection on again must really restart the loop.
	env.det.SetError(nil)
	if err := env.app.SetActive(true); err != nil {
		t.Fatalf("second SetActive(true) error = %v", err)
	}
	if !env.app.Active() {
		t.Fatal("detection should be running after the restart")
	}
	calls := env.det.Calls()
	waitFor(t, "frames after restart", func() bool { return env.det.Calls() > calls+3 })
	if !env.cam.IsOpen() {
		t.Error("camera should be held by the new run")
	}

	waitFor(t, "one ended and one open session", func() bool {
		sessions, err := env.st.Sessions().List(10)
		if err != nil || len(sessions) != 2 {
			return false
		}
		var ended, open int
		for _, sess := range sessions {
			if sess.EndedAt == nil {
				open++
			} else {
				ended++
			}
		}
		return ended == 1 && open == 1
	})
	if st := env.app.Status(); st.Session == "" {
		t.Error("the restarted run should have a session")
	}
}

func TestApp_PredictorDownDegradesSilently(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := newTestEnv(t, "ws://127.0.0.1:1/ws/predict")
	env.det.SetHands([]detector.Hand{detector.HelloLandmarks()})
	runApp(t, env.app)

	waitFor(t, "failed connection", func() bool {
		return env.app.Transport().State() == transport.Failed
	})
	if err := env.app.SetActive(true); err != nil {
		t.Fatalf("SetActive(true) error = %v", err)
	}
	waitFor(t, "frames", func() bool { return env.det.Calls() > 5 })

	if !env.app.Active() {
		t.Error("detection should keep running without a predictor")
	}
	if got := env.app.Status().LastGesture; got != "Hello" {
		t.Errorf("LastGesture = %q, want Hello", got)
	}
}

func TestApp_Reconnect(t *testing.T) {
	env := newTestEnv(t, newPredictorServer(t))

	if err := env.app.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if got := env.app.Transport().State(); got != transport.Open {
		t.Fatalf("state = %v, want open", got)
	}

	// Reconnecting an open client replaces the connection.
	if err := env.app.Reconnect(context.Background()); err != nil {
		t.Fatalf("second Reconnect() error = %v", err)
	}
	if got := env.app.Transport().State(); got != transport.Open {
		t.Errorf("state = %v, want open", got)
	}
	env.app.Transport().Close()
}
