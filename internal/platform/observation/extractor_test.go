package observation

import (
	"strings"
	"sync"
	"testing"
)

func findType(obs []Observation, t Type) (Observation, bool) {
	for _, o := range obs {
		if o.Type == t {
			return o, true
		}
	}
	return Observation{}, false
}

func mustFind(t *testing.T, obs []Observation, typ Type) Observation {
	t.Helper()
	o, ok := findType(obs, typ)
	if !ok {
		t.Fatalf("no %s observation in %+v", typ, obs)
	}
	return o
}

func TestExtract_BloodPressureAndPulse(t *testing.T) {
	obs := Extract("Vitals: BP 128/82 mmHg, pulse 76")

	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d: %+v", len(obs), obs)
	}
	bp := mustFind(t, obs, TypeBloodPressure)
	if bp.Systolic != 128 || bp.Diastolic != 82 || bp.Unit != "mmHg" {
		t.Errorf("unexpected blood pressure: %+v", bp)
	}
	hr := mustFind(t, obs, TypeHeartRate)
	if hr.Value != 76 || hr.Unit != "bpm" {
		t.Errorf("unexpected heart rate: %+v", hr)
	}
}

func TestExtract_SingleValues(t *testing.T) {
	tests := []struct {
		name string
		text string
		typ  Type
		want float64
		unit string
	}{
		{"glucose mg/dL", "Fasting glucose: 102 mg/dL", TypeGlucose, 102.0, "mg/dL"},
		{"glucose mmol/L", "Blood sugar 5.8 mmol/L", TypeGlucose, 104.4, "mg/dL"},
		{"glucose lower case unit", "FBS 95 mg/dl", TypeGlucose, 95, "mg/dL"},
		{"glucose spaced unit", "RBS: 6 mmol / L", TypeGlucose, 108, "mg/dL"},
		{"hemoglobin", "Hemoglobin 13.5 g/dL", TypeHemoglobin, 13.5, "g/dL"},
		{"hb abbreviation", "Hb 14.2 g/dL", TypeHemoglobin, 14.2, "g/dL"},
		{"hba1c", "HbA1c: 6.9%", TypeHbA1c, 6.9, "%"},
		{"cholesterol mg/dL", "Total cholesterol 180 mg/dL", TypeCholesterol, 180.0, "mg/dL"},
		{"cholesterol mmol/L", "Cholesterol: 4.7 mmol/L", TypeCholesterol, 181.7, "mg/dL"},
		{"heart rate bpm", "Heart Rate: 72 bpm", TypeHeartRate, 72, "bpm"},
		{"temperature celsius", "Temp: 37.2", TypeTemperature, 37.2, "°C"},
		{"temperature fahrenheit", "Temperature 98.6 F", TypeTemperature, 98.6, "°F"},
		{"temperature inferred fahrenheit", "Temp 101", TypeTemperature, 101, "°F"},
		{"temperature degree sign", "temp 38.5°C", TypeTemperature, 38.5, "°C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := mustFind(t, Extract(tt.text), tt.typ)
			if o.Value != tt.want {
				t.Errorf("value = %v, want %v", o.Value, tt.want)
			}
			if o.Unit != tt.unit {
				t.Errorf("unit = %q, want %q", o.Unit, tt.unit)
			}
		})
	}
}

func TestExtract_Separators(t *testing.T) {
	for _, text := range []string{
		"BP:120/80",
		"BP-120/80",
		"BP–120/80",
		"BP—120/80",
		"BP−120/80",
		"Blood Pressure : 120 / 80",
		"bp 120/80",
	} {
		t.Run(text, func(t *testing.T) {
			bp := mustFind(t, Extract(text), TypeBloodPressure)
			if bp.Systolic != 120 || bp.Diastolic != 80 {
				t.Errorf("unexpected blood pressure: %+v", bp)
			}
		})
	}
}

func TestExtract_Noise(t *testing.T) {
	obs := Extract("Report: BP hello/there; sugar N/A; HbA1c: -- %; random text")
	if obs == nil {
		t.Fatal("expected an empty slice, got nil")
	}
	if len(obs) != 0 {
		t.Errorf("expected no observations, got %+v", obs)
	}
}

func TestExtract_Blank(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		if obs := Extract(text); obs == nil || len(obs) != 0 {
			t.Errorf("Extract(%q) = %#v, want empty", text, obs)
		}
	}
}

func TestExtract_MultipleObservations(t *testing.T) {
	obs := Extract("Vitals: BP 120/80; FBS 95 mg/dl; Hb 14.2 g/dL; HbA1c 7.2%; Cholesterol 5.0 mmol/L")

	if len(obs) != 5 {
		t.Fatalf("expected 5 observations, got %d: %+v", len(obs), obs)
	}
	want := []Type{TypeBloodPressure, TypeGlucose, TypeHemoglobin, TypeHbA1c, TypeCholesterol}
	for i, typ := range want {
		if obs[i].Type != typ {
			t.Errorf("obs[%d].Type = %s, want %s", i, obs[i].Type, typ)
		}
	}
}

func TestExtract_RepeatedAnalyte(t *testing.T) {
	obs := Extract("BP 140/90 on admission, BP 120/80 at discharge")
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %+v", obs)
	}
	if obs[0].Systolic != 140 || obs[1].Systolic != 120 {
		t.Errorf("observations out of text order: %+v", obs)
	}
}

func TestExtract_AdjacentCharactersRejected(t *testing.T) {
	for _, text := range []string{
		"BP 1200/80",
		"Pulse 1234",
		"HR 72x",
		"Hb 14.2.3 g/dL",
		"Temp 37.55",
		"glucose 100 mg/dLx",
		"HbA1c 7.2%5",
	} {
		t.Run(text, func(t *testing.T) {
			if obs := Extract(text); len(obs) != 0 {
				t.Errorf("expected no observations, got %+v", obs)
			}
		})
	}
}

func TestExtract_HbDoesNotMatchHbA1c(t *testing.T) {
	obs := Extract("HbA1c 6.5%")
	if _, ok := findType(obs, TypeHemoglobin); ok {
		t.Errorf("HbA1c should not be read as hemoglobin: %+v", obs)
	}
	mustFind(t, obs, TypeHbA1c)
}

func TestExtract_UnitRequired(t *testing.T) {
	for _, text := range []string{"glucose 102", "Hb 13.5", "HbA1c 6.9", "Cholesterol 180 units"} {
		if obs := Extract(text); len(obs) != 0 {
			t.Errorf("Extract(%q) = %+v, want none", text, obs)
		}
	}
}

func TestExtract_Concurrent(t *testing.T) {
	const text = "BP 120/80; pulse 70; glucose 5.8 mmol/L"
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := len(Extract(text)); got != 3 {
				t.Errorf("expected 3 observations, got %d", got)
			}
		}()
	}
	wg.Wait()
}

func TestNewExtractor_CustomRules(t *testing.T) {
	e, err := NewExtractor([]Rule{{
		Type:        "spo2",
		Label:       `spo2`,
		Value:       `\d{2,3}`,
		DefaultUnit: "%",
	}})
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}
	obs := e.Extract("SpO2: 97")
	if len(obs) != 1 || obs[0].Value != 97 || obs[0].Unit != "%" {
		t.Errorf("unexpected observations: %+v", obs)
	}
	if len(e.Extract("BP 120/80")) != 0 {
		t.Error("custom extractor should only apply its own rules")
	}
}

func TestNewExtractor_InvalidRule(t *testing.T) {
	if _, err := NewExtractor([]Rule{{Type: TypeGlucose, Label: `(`, Value: `\d+`}}); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestObservation_Display(t *testing.T) {
	tests := []struct {
		obs  Observation
		want string
	}{
		{Observation{Type: TypeBloodPressure, Systolic: 128, Diastolic: 82, Unit: "mmHg"}, "128/82 mmHg"},
		{Observation{Type: TypeGlucose, Value: 104.4, Unit: "mg/dL"}, "104.4 mg/dL"},
		{Observation{Type: TypeHbA1c, Value: 6.9, Unit: "%"}, "6.9%"},
		{Observation{Type: TypeHeartRate, Value: 76, Unit: "bpm"}, "76 bpm"},
	}
	for _, tt := range tests {
		if got := tt.obs.Display(); got != tt.want {
			t.Errorf("Display() = %q, want %q", got, tt.want)
		}
	}
}

func TestUnitConversionRule_Apply(t *testing.T) {
	c := UnitConversionRule{From: "mmol/L", To: "mg/dL", Factor: CholesterolMmolFactor, Precision: 1}
	if got := c.Apply(4.7); got != 181.7 {
		t.Errorf("Apply(4.7) = %v, want 181.7", got)
	}
	g := UnitConversionRule{From: "mmol/L", To: "mg/dL", Factor: GlucoseMmolFactor, Precision: 1}
	if got := g.Apply(5.8); got != 104.4 {
		t.Errorf("Apply(5.8) = %v, want 104.4", got)
	}
}

func TestType_Label(t *testing.T) {
	if got := TypeBloodPressure.Label(); got != "Blood Pressure" {
		t.Errorf("Label() = %q", got)
	}
	if got := Type("spo2").Label(); !strings.EqualFold(got, "spo2") {
		t.Errorf("Label() = %q", got)
	}
}
