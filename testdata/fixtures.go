// Package testdata holds recorded hand landmark frames in the predictor
// wire format.
package testdata

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/ayusman/signcaption/internal/detector"
	"github.com/ayusman/signcaption/internal/transport"
)

//go:embed hands/*.json
var handsFS embed.FS

// Raw returns the undecoded frame stored as hands/<name>.json.
func Raw(name string) ([]byte, error) {
	data, err := handsFS.ReadFile(path.Join("hands", name+".json"))
	if err != nil {
		return nil, fmt.Errorf("load hand %s: %w", name, err)
	}
	return data, nil
}

// LoadHand decodes the frame stored as hands/<name>.json.
func LoadHand(name string) (detector.Hand, error) {
	data, err := Raw(name)
	if err != nil {
		return detector.Hand{}, err
	}
	hand, err := transport.DecodeHand(data)
	if err != nil {
		return detector.Hand{}, fmt.Errorf("decode hand %s: %w", name, err)
	}
	return hand, nil
}

// Names lists the available fixtures, sorted.
func Names() []string {
	entries, err := handsFS.ReadDir("hands")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names
}
