package interpreter

import (
	"testing"

	"github.com/example/audio-check/internal/failure"
)

func TestInterpretAuthenticResponse(t *testing.T) {
	result, err := New(DefaultFieldMapping, DefaultThresholds).Interpret([]byte(`{"realProbability": 82, "fakeProbability": 18}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsAuthentic {
		t.Fatal("expected authentic verdict")
	}
	if result.RealBand != High {
		t.Fatalf("expected real band %q, got %q", High, result.RealBand)
	}
	if result.FakeBand != VeryLow {
		t.Fatalf("expected fake band %q, got %q", VeryLow, result.FakeBand)
	}
	if result.Summary() != "Analysis result: Authentic Audio (82% confidence)" {
		t.Fatalf("unexpected summary: %s", result.Summary())
	}
}

func TestInterpretTieFavoursFake(t *testing.T) {
	interp := New(DefaultFieldMapping, DefaultThresholds)
	for _, p := range []string{"0", "33.3", "50", "100"} {
		result, err := interp.Interpret([]byte(`{"realProbability": ` + p + `, "fakeProbability": ` + p + `}`))
		if err != nil {
			t.Fatalf("p=%s: unexpected error: %v", p, err)
		}
		if result.IsAuthentic {
			t.Fatalf("p=%s: tie must not be authentic", p)
		}
		if result.Verdict() != "Deepfake Detected" {
			t.Fatalf("p=%s: unexpected verdict %s", p, result.Verdict())
		}
	}
}

func TestInterpretKeepsFractionsForThresholds(t *testing.T) {
	result, err := New(DefaultFieldMapping, DefaultThresholds).Interpret([]byte(`{"real_probability": 60.4, "fake_probability": 39.6, "result_label": "Real"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RealBand != Moderate {
		t.Fatalf("expected 60.4 to be Moderate, got %s", result.RealBand)
	}
	if Percent(result.RealProbability) != 60 {
		t.Fatalf("expected display value 60, got %d", Percent(result.RealProbability))
	}
	if result.Label != "Real" {
		t.Fatalf("expected label to be carried, got %q", result.Label)
	}
}

func TestInterpretIgnoresLabelForVerdict(t *testing.T) {
	result, err := New(DefaultFieldMapping, DefaultThresholds).Interpret([]byte(`{"label": "Real", "realProbability": 10, "fakeProbability": 90}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsAuthentic {
		t.Fatal("label must not override probabilities")
	}
	if result.DecisionBand != Moderate {
		t.Fatalf("expected decision band Moderate, got %s", result.DecisionBand)
	}
}

func TestInterpretMalformedResponses(t *testing.T) {
	interp := New(DefaultFieldMapping, DefaultThresholds)
	cases := map[string]string{
		"missing fake":  `{"realProbability": 82}`,
		"not object":    `[1,2]`,
		"not json":      `nope`,
		"non numeric":   `{"realProbability": true, "fakeProbability": 1}`,
		"out of range":  `{"realProbability": 120, "fakeProbability": 1}`,
		"bad string":    `{"realProbability": "high", "fakeProbability": 1}`,
		"null value":    `{"realProbability": null, "fakeProbability": 1}`,
		"empty object":  `{}`,
		"negative fake": `{"realProbability": 3, "fakeProbability": -1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := interp.Interpret([]byte(body))
			if err == nil {
				t.Fatalf("expected error, got %+v", result)
			}
			if failure.KindOf(err) != failure.MalformedResponse {
				t.Fatalf("expected malformed response, got %v", err)
			}
		})
	}
}

func TestInterpretCustomMapping(t *testing.T) {
	interp := New(FieldMapping{
		RealProbability: []string{"scores.human"},
		FakeProbability: []string{"scores.synthetic"},
		Label:           []string{"verdict"},
	}, Thresholds{})
	result, err := interp.Interpret([]byte(`{"scores": {"human": "71.5%", "synthetic": 28.5}, "verdict": "human"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsAuthentic || result.RealProbability != 71.5 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if interp.Thresholds() != DefaultThresholds {
		t.Fatalf("expected zero thresholds to fall back to defaults")
	}
}

func TestThresholdBands(t *testing.T) {
	cases := []struct {
		p    float64
		want Band
	}{
		{100, VeryHigh}, {90.01, VeryHigh}, {90, High}, {75.5, High}, {75, Moderate},
		{60.01, Moderate}, {60, Low}, {40.5, Low}, {40, VeryLow}, {18, VeryLow}, {0, VeryLow},
	}
	for _, tc := range cases {
		if got := DefaultThresholds.Band(tc.p); got != tc.want {
			t.Fatalf("Band(%v) = %s, want %s", tc.p, got, tc.want)
		}
	}
}

func TestClassifyMatchesInterpret(t *testing.T) {
	interp := New(FieldMapping{}, Thresholds{})
	fromJSON, err := interp.Interpret([]byte(`{"realProbability": 12.5, "fakeProbability": 87.5, "label": "fake"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rebuilt := interp.Classify(12.5, 87.5, "fake")
	if *rebuilt != *fromJSON {
		t.Fatalf("expected %+v, got %+v", fromJSON, rebuilt)
	}
	if rebuilt.DecisionBand != High {
		t.Fatalf("expected decision band %s, got %s", High, rebuilt.DecisionBand)
	}
}
