package observation

// Rule describes how one analyte is recognised in text. Label, Value and
// Unit are regular expression fragments matched case-insensitively; they
// must not contain capturing groups.
type Rule struct {
	Type Type

	// Label is an alternation of the spellings that introduce the value.
	Label string

	// Value matches one number. When Pair is set the rule expects two
	// numbers separated by '/'.
	Value string
	Pair  bool

	// Unit matches the unit token following the value. An empty Unit means
	// the rule never reads a unit.
	Unit         string
	UnitRequired bool

	// Units maps a captured unit token, lower-cased with spaces and the
	// degree sign removed, to its display spelling.
	Units map[string]string

	// DefaultUnit is reported when no unit token was captured. InferUnit, if
	// set, takes precedence and decides the unit from the value.
	DefaultUnit string
	InferUnit   func(v float64) string

	// Conversions rewrite a value from a non-canonical unit.
	Conversions []UnitConversionRule
}

const (
	mgPerDL  = "mg/dL"
	mmolPerL = "mmol/L"
)

// Scale factors from mmol/L to mg/dL.
const (
	GlucoseMmolFactor     = 18.0
	CholesterolMmolFactor = 38.67
)

var concentrationUnits = map[string]string{
	"mg/dl":  mgPerDL,
	"mmol/l": mmolPerL,
}

// DefaultRules returns the built-in rule table, in output order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Type:        TypeBloodPressure,
			Label:       `bp|blood\s+pressure`,
			Value:       `\d{2,3}`,
			Pair:        true,
			Unit:        `mm\s*hg\b`,
			Units:       map[string]string{"mmhg": "mmHg"},
			DefaultUnit: "mmHg",
		},
		{
			Type:        TypeHeartRate,
			Label:       `hr|heart\s+rate|pulse(?:\s+rate)?`,
			Value:       `\d{2,3}`,
			Unit:        `bpm\b`,
			Units:       map[string]string{"bpm": "bpm"},
			DefaultUnit: "bpm",
		},
		{
			Type:      TypeTemperature,
			Label:     `temp(?:erature)?`,
			Value:     `\d{2,3}(?:\.\d)?`,
			Unit:      `°?\s*[cf]\b`,
			Units:     map[string]string{"c": "°C", "f": "°F"},
			InferUnit: inferTemperatureUnit,
		},
		{
			Type:         TypeGlucose,
			Label:        `glucose|blood\s+sugar|sugar|fbs|rbs|ppbs`,
			Value:        `\d+(?:\.\d+)?`,
			Unit:         `mg\s*/\s*dl\b|mmol\s*/\s*l\b`,
			UnitRequired: true,
			Units:        concentrationUnits,
			Conversions: []UnitConversionRule{
				{From: mmolPerL, To: mgPerDL, Factor: GlucoseMmolFactor, Precision: 1},
			},
		},
		{
			Type:         TypeHemoglobin,
			Label:        `hemoglobin|haemoglobin|hgb|hb`,
			Value:        `\d+(?:\.\d+)?`,
			Unit:         `g\s*/\s*dl\b`,
			UnitRequired: true,
			Units:        map[string]string{"g/dl": "g/dL"},
		},
		{
			Type:         TypeHbA1c,
			Label:        `hba1c|hb\s*a1c|a1c`,
			Value:        `\d+(?:\.\d+)?`,
			Unit:         `%`,
			UnitRequired: true,
			Units:        map[string]string{"%": "%"},
		},
		{
			Type:         TypeCholesterol,
			Label:        `cholesterol`,
			Value:        `\d+(?:\.\d+)?`,
			Unit:         `mg\s*/\s*dl\b|mmol\s*/\s*l\b`,
			UnitRequired: true,
			Units:        concentrationUnits,
			Conversions: []UnitConversionRule{
				{From: mmolPerL, To: mgPerDL, Factor: CholesterolMmolFactor, Precision: 1},
			},
		},
	}
}

// Values of 50 and above cannot be a body temperature in Celsius.
func inferTemperatureUnit(v float64) string {
	if v >= 50 {
		return "°F"
	}
	return "°C"
}
