// Package fixtures loads a small table of named reference image sizes
// ("presets") from an embedded CSV, the same role disko/disks.go's
// predefined disk geometries play in the teacher repo: a quick way for the
// dispatcher and for property tests to ask for "a tiny image" or "a default
// working image" without spelling out a byte count.
package fixtures

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// Preset is one named reference image size.
type Preset struct {
	Name        string `csv:"name"`
	SizeBytes   uint32 `csv:"size_bytes"`
	Description string `csv:"description"`
}

//go:embed presets.csv
var rawCSV string

var presets map[string]Preset

func init() {
	presets = make(map[string]Preset)
	reader := strings.NewReader(rawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row Preset) error {
		if _, exists := presets[row.Name]; exists {
			return fmt.Errorf("duplicate preset name %q", row.Name)
		}
		presets[row.Name] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}

// Lookup returns the named preset, if one exists.
func Lookup(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// Names returns every known preset name, for usage/help text.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}
