// Package interpreter turns a classification service response into a verdict.
package interpreter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/example/audio-check/internal/failure"
)

// Band is a coarse confidence label for a probability.
type Band string

const (
	VeryHigh Band = "Very High"
	High     Band = "High"
	Moderate Band = "Moderate"
	Low      Band = "Low"
	VeryLow  Band = "Very Low"
)

// Thresholds are exclusive lower bounds, checked from the top.
type Thresholds struct {
	VeryHigh float64
	High     float64
	Moderate float64
	Low      float64
}

// DefaultThresholds are the business constants 90/75/60/40.
var DefaultThresholds = Thresholds{VeryHigh: 90, High: 75, Moderate: 60, Low: 40}

// Band returns the first band whose lower bound p exceeds.
func (t Thresholds) Band(p float64) Band {
	switch {
	case p > t.VeryHigh:
		return VeryHigh
	case p > t.High:
		return High
	case p > t.Moderate:
		return Moderate
	case p > t.Low:
		return Low
	default:
		return VeryLow
	}
}

// FieldMapping lists the JSON paths tried, in order, for each value.
// Paths use gjson syntax so nested payloads ("data.scores.real") work.
type FieldMapping struct {
	RealProbability []string
	FakeProbability []string
	Label           []string
}

// DefaultFieldMapping accepts both camelCase and snake_case deployments.
var DefaultFieldMapping = FieldMapping{
	RealProbability: []string{"realProbability", "real_probability"},
	FakeProbability: []string{"fakeProbability", "fake_probability"},
	Label:           []string{"label", "resultLabel", "result_label"},
}

// ClassificationResult is the verdict derived from one response. Probabilities
// keep their fractional part; round only when presenting.
type ClassificationResult struct {
	RealProbability float64 `json:"realProbability"`
	FakeProbability float64 `json:"fakeProbability"`
	Label           string  `json:"label,omitempty"`
	IsAuthentic     bool    `json:"isAuthentic"`
	RealBand        Band    `json:"realConfidence"`
	FakeBand        Band    `json:"fakeConfidence"`
	DecisionBand    Band    `json:"decisionConfidence"`
}

// Confidence is the probability of the side that produced the verdict.
func (r *ClassificationResult) Confidence() float64 {
	if r.IsAuthentic {
		return r.RealProbability
	}
	return r.FakeProbability
}

// Verdict is the headline shown for the result.
func (r *ClassificationResult) Verdict() string {
	if r.IsAuthentic {
		return "Authentic Audio"
	}
	return "Deepfake Detected"
}

// Summary is the one-line text used when sharing a result.
func (r *ClassificationResult) Summary() string {
	return fmt.Sprintf("Analysis result: %s (%d%% confidence)", r.Verdict(), Percent(r.Confidence()))
}

// Percent rounds a probability for display.
func Percent(p float64) int {
	return int(math.Round(p))
}

// Interpreter validates responses against a field mapping.
type Interpreter struct {
	fields     FieldMapping
	thresholds Thresholds
}

// New returns an Interpreter. Empty key lists fall back to the defaults.
func New(fields FieldMapping, thresholds Thresholds) *Interpreter {
	if len(fields.RealProbability) == 0 {
		fields.RealProbability = DefaultFieldMapping.RealProbability
	}
	if len(fields.FakeProbability) == 0 {
		fields.FakeProbability = DefaultFieldMapping.FakeProbability
	}
	if len(fields.Label) == 0 {
		fields.Label = DefaultFieldMapping.Label
	}
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds
	}
	return &Interpreter{fields: fields, thresholds: thresholds}
}

// Thresholds returns the banding in use.
func (i *Interpreter) Thresholds() Thresholds { return i.thresholds }

// Interpret derives the verdict from raw. The label is carried along but
// never decides authenticity; a tie is classified as not authentic.
func (i *Interpreter) Interpret(raw []byte) (*ClassificationResult, error) {
	if !gjson.ValidBytes(raw) {
		return nil, failure.New(failure.MalformedResponse, "response is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, failure.New(failure.MalformedResponse, "response is not a JSON object")
	}

	realP, err := probability(doc, i.fields.RealProbability)
	if err != nil {
		return nil, err
	}
	fakeP, err := probability(doc, i.fields.FakeProbability)
	if err != nil {
		return nil, err
	}

	return i.Classify(realP, fakeP, firstString(doc, i.fields.Label)), nil
}

// Classify builds a result from probabilities that were already validated,
// such as ones read back from storage.
func (i *Interpreter) Classify(realP, fakeP float64, label string) *ClassificationResult {
	return &ClassificationResult{
		RealProbability: realP,
		FakeProbability: fakeP,
		Label:           label,
		IsAuthentic:     realP > fakeP,
		RealBand:        i.thresholds.Band(realP),
		FakeBand:        i.thresholds.Band(fakeP),
		DecisionBand:    i.thresholds.Band(math.Max(realP, fakeP)),
	}
}

func probability(doc gjson.Result, paths []string) (float64, error) {
	for _, path := range paths {
		v := doc.Get(path)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		var p float64
		switch v.Type {
		case gjson.Number:
			p = v.Float()
		case gjson.String:
			parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v.Str), "%"), 64)
			if err != nil {
				return 0, failure.Wrap(failure.MalformedResponse, fmt.Sprintf("field %s is not numeric", path), err)
			}
			p = parsed
		default:
			return 0, failure.New(failure.MalformedResponse, fmt.Sprintf("field %s is not numeric", path))
		}
		if math.IsNaN(p) || p < 0 || p > 100 {
			return 0, failure.New(failure.MalformedResponse, fmt.Sprintf("field %s is outside [0,100]: %v", path, p))
		}
		return p, nil
	}
	return 0, failure.New(failure.MalformedResponse, "missing field "+strings.Join(paths, "|"))
}

func firstString(doc gjson.Result, paths []string) string {
	for _, path := range paths {
		if v := doc.Get(path); v.Exists() && v.Type != gjson.Null {
			return v.String()
		}
	}
	return ""
}
