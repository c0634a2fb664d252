package backsolve

import (
	"encoding/json"
	"fmt"
	"os"

	hjson "github.com/hjson/hjson-go/v4"

	"opm_backsolve/pkg/core/pricing"
)

// Presets maps scenario preset names to Black-Scholes parameter sets.
// The preset file is hand-edited by analysts, so it is HJSON: comments
// and trailing commas are legal.
type Presets map[string]pricing.Params

// LoadPresets reads a preset file. A missing path is not an error; the
// service simply runs without presets.
func LoadPresets(path string) (Presets, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file %s: %w", path, err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes HJSON preset content. HJSON unmarshals into
// loose maps, so the content round-trips through JSON into the typed
// form.
func ParsePresets(data []byte) (Presets, error) {
	var loose map[string]interface{}
	if err := hjson.Unmarshal(data, &loose); err != nil {
		return nil, fmt.Errorf("malformed presets: %w", err)
	}
	strict, err := json.Marshal(loose)
	if err != nil {
		return nil, err
	}
	var presets Presets
	if err := json.Unmarshal(strict, &presets); err != nil {
		return nil, fmt.Errorf("malformed presets: %w", err)
	}
	for name, p := range presets {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
	}
	return presets, nil
}
