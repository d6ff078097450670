package predictor

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/signcaption/internal/detector"
)

func templateOf(label string, hand detector.Hand) Template {
	return Template{Label: label, Points: hand.Points[:]}
}

func shifted(hand detector.Hand, dx, dy float64) detector.Hand {
	for i := range hand.Points {
		hand.Points[i].X += dx
		hand.Points[i].Y += dy
	}
	return hand
}

func scaled(hand detector.Hand, k float64) detector.Hand {
	for i := range hand.Points {
		hand.Points[i].X *= k
		hand.Points[i].Y *= k
	}
	return hand
}

func TestTemplateModel_Predict(t *testing.T) {
	model, err := NewTemplateModel([]Template{
		templateOf("Hello", detector.HelloLandmarks()),
		templateOf("No", detector.NoLandmarks()),
	}, 0.01)
	if err != nil {
		t.Fatalf("NewTemplateModel() error = %v", err)
	}

	tests := []struct {
		name   string
		hand   detector.Hand
		want   string
		wantOK bool
	}{
		{name: "exact template", hand: detector.HelloLandmarks(), want: "Hello", wantOK: true},
		{name: "moved in frame", hand: shifted(detector.HelloLandmarks(), -0.2, 0.05), want: "Hello", wantOK: true},
		{name: "other template", hand: shifted(detector.NoLandmarks(), 0.1, -0.1), want: "No", wantOK: true},
		{name: "too far from every template", hand: scaled(detector.HelloLandmarks(), 2), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := model.Predict(&tt.hand)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Predict() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNewTemplateModel_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		templates []Template
	}{
		{name: "empty", templates: nil},
		{name: "missing label", templates: []Template{templateOf("", detector.HelloLandmarks())}},
		{name: "partial hand", templates: []Template{{Label: "Hello", Points: make([]detector.Point3D, 20)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTemplateModel(tt.templates, 0); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadTemplateModel(t *testing.T) {
	set := TemplateSet{
		MaxDistance: 0.05,
		Templates: []Template{
			templateOf("Yes", detector.YesLandmarks()),
			templateOf("Peace", detector.PeaceLandmarks()),
		},
	}
	data, err := yaml.Marshal(set)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	if !bytes.Contains(data, []byte("max_distance")) {
		t.Fatalf("unexpected template document:\n%s", data)
	}

	model, err := LoadTemplateModel(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("LoadTemplateModel() error = %v", err)
	}
	if model.maxDistance != 0.05 {
		t.Errorf("maxDistance = %v, want 0.05", model.maxDistance)
	}

	hand := shifted(detector.PeaceLandmarks(), 0.1, 0.1)
	if got, ok := model.Predict(&hand); !ok || got != "Peace" {
		t.Errorf("Predict() = (%q, %v), want (\"Peace\", true)", got, ok)
	}
}

func TestLoadTemplateModel_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty document", doc: ""},
		{name: "unknown field", doc: "threshold: 0.2\n"},
		{name: "bad yaml", doc: "templates: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTemplateModel(strings.NewReader(tt.doc)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadTemplateFile(t *testing.T) {
	data, err := yaml.Marshal(TemplateSet{Templates: []Template{templateOf("Hello", detector.HelloLandmarks())}})
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	model, err := LoadTemplateFile(path)
	if err != nil {
		t.Fatalf("LoadTemplateFile() error = %v", err)
	}
	if model.maxDistance != DefaultMaxDistance {
		t.Errorf("maxDistance = %v, want default %v", model.maxDistance, DefaultMaxDistance)
	}

	if _, err := LoadTemplateFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestHandler_TemplateModel(t *testing.T) {
	model, err := NewTemplateModel([]Template{templateOf("Hello", detector.HelloLandmarks())}, 0.01)
	if err != nil {
		t.Fatalf("NewTemplateModel() error = %v", err)
	}
	conn := dial(t, NewHandler(model, zerolog.Nop()))

	sendHand(t, conn, shifted(detector.HelloLandmarks(), 0.05, 0))
	if got := readReply(t, conn); got != "Hello" {
		t.Errorf("reply = %q, want Hello", got)
	}
	sendHand(t, conn, detector.NoLandmarks())
	if got := readReply(t, conn); got != "?" {
		t.Errorf("reply = %q, want ?", got)
	}
}
