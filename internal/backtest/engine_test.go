package backtest

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/stat"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/features"
)

const day = 86400

func closes(n int) map[domain.Timestamp]float64 {
	out := make(map[domain.Timestamp]float64, n)
	for i := range n {
		t := domain.Timestamp(1_600_000_000 + i*day)
		out[t] = 100 + 10*math.Sin(float64(i)*0.5) + 0.1*float64(i)
	}
	return out
}

// fixture engineers a close-only series of n rows and its 1-step label.
func fixture(t *testing.T, n int) (*domain.TimeSeries, *domain.TimeSeries) {
	t.Helper()
	b := domain.NewSeriesBuilder()
	for ts, v := range closes(n) {
		b.Set(ts, "close", v)
	}
	ts, err := features.Engineer(b.Build(), 2, features.Delta, 2, features.StdDev)
	if err != nil {
		t.Fatalf("Engineer failed: %v", err)
	}
	labels, err := features.ExtractForecastSeries(ts, "close", 1, features.Delta)
	if err != nil {
		t.Fatalf("ExtractForecastSeries failed: %v", err)
	}
	return ts, labels
}

func testConfig() Config {
	return Config{
		RunID:            "run-1",
		ForecastHorizon:  1,
		MinTrainExamples: 10,
		SparsityFilter:   0.5,
		TopFeatures:      3,
		KNearest:         3,
	}
}

func collect(t *testing.T, cfg Config, ts, labels *domain.TimeSeries, opts ...Option) []domain.StepResult {
	t.Helper()
	engine, err := NewEngine(cfg, opts...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	var out []domain.StepResult
	for r := range engine.Steps(ts, labels) {
		out = append(out, r)
	}
	return out
}

func TestEngine_SkipsUntilMinTrainExamples(t *testing.T) {
	ts, labels := fixture(t, 40)
	times := ts.Timestamps()

	results := collect(t, testConfig(), ts, labels)

	// every "now" from index 9 up to the second-to-last timestamp
	if len(results) != 30 {
		t.Fatalf("Expected 30 steps, got %d", len(results))
	}
	for i, r := range results {
		if r.Step != i+1 {
			t.Errorf("Step %d: expected index %d", r.Step, i+1)
		}
		if r.Now != times[9+i] || r.Timestamp != times[10+i] {
			t.Errorf("Step %d: expected now=%d next=%d, got now=%d next=%d",
				r.Step, times[9+i], times[10+i], r.Now, r.Timestamp)
		}
		if r.RunID != "run-1" {
			t.Errorf("Step %d: expected run id run-1, got %q", r.Step, r.RunID)
		}
	}
}

func TestEngine_MaxSteps(t *testing.T) {
	ts, labels := fixture(t, 40)
	cfg := testConfig()
	cfg.MaxSteps = 5

	results := collect(t, cfg, ts, labels)

	if len(results) != 5 {
		t.Fatalf("Expected 5 steps, got %d", len(results))
	}
}

func TestEngine_TooShortYieldsNothing(t *testing.T) {
	ts, labels := fixture(t, 10)

	results := collect(t, testConfig(), ts, labels)

	if len(results) != 0 {
		t.Fatalf("Expected no steps, got %d", len(results))
	}
}

func TestEngine_Restartable(t *testing.T) {
	ts, labels := fixture(t, 30)
	engine, err := NewEngine(testConfig())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	seq := engine.Steps(ts, labels)

	var first, second []domain.StepResult
	for r := range seq {
		first = append(first, r)
	}
	for r := range seq {
		second = append(second, r)
	}

	if len(first) == 0 {
		t.Fatal("Expected steps")
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("Second iteration differs from the first")
	}
}

func TestEngine_EarlyBreak(t *testing.T) {
	ts, labels := fixture(t, 30)
	engine, _ := NewEngine(testConfig())

	count := 0
	for range engine.Steps(ts, labels) {
		count++
		if count == 2 {
			break
		}
	}

	if count != 2 {
		t.Errorf("Expected to stop after 2 steps, got %d", count)
	}
}

func TestEngine_FutureRowsDoNotChangePastSteps(t *testing.T) {
	shortTs, shortLabels := fixture(t, 30)
	longTs, longLabels := fixture(t, 45)

	short := collect(t, testConfig(), shortTs, shortLabels)
	long := collect(t, testConfig(), longTs, longLabels)

	if len(short) == 0 || len(long) <= len(short) {
		t.Fatalf("Unexpected step counts: short=%d long=%d", len(short), len(long))
	}
	for i, s := range short {
		l := long[i]
		if s.Now != l.Now || s.Timestamp != l.Timestamp {
			t.Fatalf("Step %d: timestamps differ", s.Step)
		}
		if !reflect.DeepEqual(s.SelectedFeatures, l.SelectedFeatures) {
			t.Errorf("Step %d: selected features differ: %v vs %v", s.Step, s.SelectedFeatures, l.SelectedFeatures)
		}
		if s.TrainSize != l.TrainSize || s.Neighbors != l.Neighbors {
			t.Errorf("Step %d: training differs", s.Step)
		}
		if !reflect.DeepEqual(s.Predicted, l.Predicted) || !reflect.DeepEqual(s.PredictedValue, l.PredictedValue) {
			t.Errorf("Step %d: prediction differs", s.Step)
		}
	}
}

func TestEngine_SelectionUsesTopFeatures(t *testing.T) {
	ts, labels := fixture(t, 30)
	cfg := testConfig()
	cfg.TopFeatures = 2

	for _, r := range collect(t, cfg, ts, labels) {
		if len(r.SelectedFeatures) > 2 {
			t.Errorf("Step %d: expected at most 2 features, got %v", r.Step, r.SelectedFeatures)
		}
		if r.Neighbors > cfg.KNearest {
			t.Errorf("Step %d: %d neighbors exceeds k", r.Step, r.Neighbors)
		}
	}
}

func TestEngine_RunningCorrelation(t *testing.T) {
	ts, labels := fixture(t, 60)

	results := collect(t, testConfig(), ts, labels)

	var predicted, actual []float64
	for _, r := range results {
		if r.HasPair() {
			predicted = append(predicted, *r.Predicted)
			actual = append(actual, *r.Actual)
		}
		if r.Pairs != len(predicted) {
			t.Fatalf("Step %d: expected %d pairs, got %d", r.Step, len(predicted), r.Pairs)
		}
		if r.Pairs < 2 && r.Correlation != nil {
			t.Errorf("Step %d: correlation reported with %d pairs", r.Step, r.Pairs)
		}
		if r.Predicted != nil && r.PredictedValue == nil {
			t.Errorf("Step %d: prediction without label-unit value", r.Step)
		}
	}

	if len(predicted) < 10 {
		t.Fatalf("Expected at least 10 pairs, got %d", len(predicted))
	}
	last := results[len(results)-1]
	if last.Correlation == nil {
		t.Fatal("Expected a final correlation")
	}
	want := stat.Correlation(predicted, actual, nil)
	if math.Abs(*last.Correlation-want) > 1e-12 {
		t.Errorf("Expected correlation %v, got %v", want, *last.Correlation)
	}
}

func TestEngine_ActualValueIsRawLabel(t *testing.T) {
	ts, labels := fixture(t, 30)
	name := labels.FeatureNames()[0]

	for _, r := range collect(t, testConfig(), ts, labels) {
		v, ok := labels.Value(r.Timestamp, name)
		if ok != (r.ActualValue != nil) {
			t.Fatalf("Step %d: label presence mismatch", r.Step)
		}
		if ok && *r.ActualValue != v {
			t.Errorf("Step %d: expected actual %v, got %v", r.Step, v, *r.ActualValue)
		}
	}
}

func TestEngine_NoLabelsNoPredictions(t *testing.T) {
	ts, _ := fixture(t, 30)

	results := collect(t, testConfig(), ts, domain.EmptySeries())

	if len(results) != 20 {
		t.Fatalf("Expected 20 steps, got %d", len(results))
	}
	for _, r := range results {
		if r.Predicted != nil || r.Actual != nil || r.Correlation != nil || r.Pairs != 0 {
			t.Errorf("Step %d: expected an empty result, got %+v", r.Step, r)
		}
	}
}

func TestEngine_EmptyQueryRowHasNoPrediction(t *testing.T) {
	ts, labels := fixture(t, 30)
	times := ts.Timestamps()
	last := times[len(times)-1]
	ts = domain.SelectFeatures(ts, func(rt domain.Timestamp, _ string) bool { return rt != last })

	results := collect(t, testConfig(), ts, labels)

	if len(results) == 0 {
		t.Fatal("Expected steps")
	}
	final := results[len(results)-1]
	if final.Timestamp != last {
		t.Fatalf("Expected final step at %d, got %d", last, final.Timestamp)
	}
	if final.Predicted != nil || final.PredictedValue != nil || final.Neighbors != 0 {
		t.Errorf("Expected no prediction for an empty query row, got %+v", final)
	}

	predicted := 0
	for _, r := range results[:len(results)-1] {
		if r.Predicted != nil {
			predicted++
		}
	}
	if predicted == 0 {
		t.Error("Expected earlier steps to predict")
	}
}

type countingObserver struct{ steps []int }

func (o *countingObserver) ObserveStep(r domain.StepResult) { o.steps = append(o.steps, r.Step) }

func TestEngine_Observer(t *testing.T) {
	ts, labels := fixture(t, 30)
	obs := &countingObserver{}

	results := collect(t, testConfig(), ts, labels, WithObserver(obs), WithLogger(nil))

	if len(obs.steps) != len(results) {
		t.Errorf("Observer saw %d steps, expected %d", len(obs.steps), len(results))
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative horizon", func(c *Config) { c.ForecastHorizon = -1 }},
		{"zero min train", func(c *Config) { c.MinTrainExamples = 0 }},
		{"sparsity above one", func(c *Config) { c.SparsityFilter = 1.5 }},
		{"negative sparsity", func(c *Config) { c.SparsityFilter = -0.1 }},
		{"zero top features", func(c *Config) { c.TopFeatures = 0 }},
		{"zero k", func(c *Config) { c.KNearest = 0 }},
		{"negative max steps", func(c *Config) { c.MaxSteps = -1 }},
	}

	if err := testConfig().Validate(); err != nil {
		t.Fatalf("Valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := NewEngine(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
