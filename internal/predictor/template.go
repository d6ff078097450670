package predictor

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/signcaption/internal/detector"
)

// DefaultMaxDistance is the feature distance beyond which a hand matches no
// template.
const DefaultMaxDistance = 0.3

// Template is one labelled reference pose.
type Template struct {
	Label  string             `yaml:"label"`
	Points []detector.Point3D `yaml:"points"`
}

// TemplateSet is the on-disk form of a TemplateModel.
type TemplateSet struct {
	MaxDistance float64    `yaml:"max_distance"`
	Templates   []Template `yaml:"templates"`
}

type templateEntry struct {
	label    string
	features []float64
}

// TemplateModel labels a hand with its nearest template in feature space.
// Features are shifted to each axis minimum, so the match ignores where in
// the frame the hand is.
type TemplateModel struct {
	maxDistance float64
	entries     []templateEntry
}

// NewTemplateModel builds a model from templates. A non-positive
// maxDistance uses DefaultMaxDistance.
func NewTemplateModel(templates []Template, maxDistance float64) (*TemplateModel, error) {
	if len(templates) == 0 {
		return nil, errors.New("predictor: no templates")
	}
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}

	m := &TemplateModel{maxDistance: maxDistance}
	for i, t := range templates {
		if t.Label == "" {
			return nil, fmt.Errorf("predictor: template %d has no label", i)
		}
		hand, err := detector.NewHand(t.Points)
		if err != nil {
			return nil, fmt.Errorf("predictor: template %q: %w", t.Label, err)
		}
		m.entries = append(m.entries, templateEntry{label: t.Label, features: Features(&hand)})
	}
	return m, nil
}

// LoadTemplateModel reads a YAML TemplateSet from r.
func LoadTemplateModel(r io.Reader) (*TemplateModel, error) {
	var set TemplateSet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&set); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("predictor: parse templates: %w", err)
	}
	return NewTemplateModel(set.Templates, set.MaxDistance)
}

// LoadTemplateFile reads a YAML TemplateSet from path.
func LoadTemplateFile(path string) (*TemplateModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("predictor: open templates: %w", err)
	}
	defer f.Close()
	return LoadTemplateModel(f)
}

// Predict implements Model.
func (m *TemplateModel) Predict(hand *detector.Hand) (string, bool) {
	f := Features(hand)

	best, bestDist := "", math.Inf(1)
	for _, e := range m.entries {
		if d := featureDistance(f, e.features); d < bestDist {
			best, bestDist = e.label, d
		}
	}
	if bestDist > m.maxDistance {
		return "", false
	}
	return best, true
}

func featureDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
