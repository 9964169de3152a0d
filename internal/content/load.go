package content

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed packs/default.yaml
var defaultPackYAML []byte

// Default parses the pack compiled into the binary.
func Default() (*Pack, error) {
	return Parse(defaultPackYAML)
}

// Load reads a pack from path, or returns the embedded default when path is
// empty.
func Load(path string) (*Pack, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content pack: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML content pack. Unknown fields are
// rejected so authoring typos surface at startup instead of as silently
// missing behavior.
func Parse(data []byte) (*Pack, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var pack Pack
	if err := dec.Decode(&pack); err != nil {
		return nil, fmt.Errorf("decode content pack: %w", err)
	}
	pack.normalize()
	if err := pack.Validate(); err != nil {
		return nil, fmt.Errorf("content pack %q: %w", pack.Name, err)
	}
	return &pack, nil
}

// normalize fills in defaults the YAML may omit.
func (p *Pack) normalize() {
	for di, table := range p.Consequences {
		for oi, effects := range table {
			for i := range effects {
				if effects[i].Timing == "" {
					effects[i].Timing = TimingImmediate
				}
			}
			p.Consequences[di][oi] = effects
		}
	}
	for di, table := range p.InvestmentPayoffs {
		for oi, effects := range table {
			for i := range effects {
				if effects[i].Timing == "" {
					effects[i].Timing = TimingImmediate
				}
			}
			p.InvestmentPayoffs[di][oi] = effects
		}
	}
}
