package detector

import "gocv.io/x/gocv"

// NewNopDetector returns a Detector that never finds a hand. The daemon runs
// it when MediaPipe is unavailable so capture and the viewer keep working.
func NewNopDetector() Detector {
	return nopDetector{}
}

type nopDetector struct{}

func (nopDetector) Detect(_ *gocv.Mat, timestampMs int64) (DetectionResult, error) {
	return DetectionResult{TimestampMs: timestampMs}, nil
}

func (nopDetector) Close() error { return nil }
