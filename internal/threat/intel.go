package threat

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

//go:embed intel/default.yaml
var defaultIntel []byte

// Indicator is a known-bad value such as an address or user agent.
type Indicator struct {
	Type     string          `yaml:"type"`
	Value    string          `yaml:"value"`
	Severity models.Severity `yaml:"severity"`
}

// Pattern is a regular expression describing an attack payload.
type Pattern struct {
	ID          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Severity    models.Severity `yaml:"severity"`
}

type intelPack struct {
	Indicators []Indicator `yaml:"indicators"`
	Patterns   []Pattern   `yaml:"patterns"`
}

type compiledPattern struct {
	Pattern
	re *regexp.Regexp
}

// Match describes the first intelligence hit on a sample.
type Match struct {
	Kind     string
	ID       string
	Severity models.Severity
}

// Intel holds compiled indicators and attack patterns.
type Intel struct {
	indicators []Indicator
	patterns   []compiledPattern
}

// LoadIntel parses and compiles a YAML intelligence pack.
func LoadIntel(data []byte) (*Intel, error) {
	var pack intelPack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse intel pack: %w", err)
	}

	intel := &Intel{}
	for _, ind := range pack.Indicators {
		if strings.TrimSpace(ind.Value) == "" {
			continue
		}
		ind.Value = strings.ToLower(ind.Value)
		intel.indicators = append(intel.indicators, ind)
	}
	for _, p := range pack.Patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %s: %w", p.ID, err)
		}
		intel.patterns = append(intel.patterns, compiledPattern{Pattern: p, re: re})
	}
	return intel, nil
}

// DefaultIntel returns the pack compiled into the binary.
func DefaultIntel() (*Intel, error) {
	return LoadIntel(defaultIntel)
}

// Size reports the number of indicators and patterns loaded.
func (i *Intel) Size() (indicators, patterns int) {
	return len(i.indicators), len(i.patterns)
}

// Match checks the serialized sample against indicators first, then patterns.
func (i *Intel) Match(sample models.MetricSample) (Match, bool) {
	if i == nil {
		return Match{}, false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(sample); err != nil {
		return Match{}, false
	}
	text := buf.String()
	lower := strings.ToLower(text)

	for _, ind := range i.indicators {
		if strings.Contains(lower, ind.Value) {
			return Match{Kind: "indicator:" + ind.Type, ID: ind.Value, Severity: ind.Severity}, true
		}
	}
	for _, p := range i.patterns {
		if p.re.MatchString(text) {
			return Match{Kind: "pattern", ID: p.ID, Severity: p.Severity}, true
		}
	}
	return Match{}, false
}
