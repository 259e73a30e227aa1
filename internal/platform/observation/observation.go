// Package observation recovers typed vital-sign and lab values from free-form
// report text.
package observation

import (
	"encoding/json"
	"math"
	"strconv"
)

// Type identifies the analyte an Observation measures.
type Type string

const (
	TypeBloodPressure Type = "blood_pressure"
	TypeHeartRate     Type = "heart_rate"
	TypeTemperature   Type = "temperature"
	TypeGlucose       Type = "glucose"
	TypeHemoglobin    Type = "hemoglobin"
	TypeHbA1c         Type = "hba1c"
	TypeCholesterol   Type = "cholesterol"
)

// Label returns the human readable analyte name.
func (t Type) Label() string {
	switch t {
	case TypeBloodPressure:
		return "Blood Pressure"
	case TypeHeartRate:
		return "Heart Rate"
	case TypeTemperature:
		return "Temperature"
	case TypeGlucose:
		return "Glucose"
	case TypeHemoglobin:
		return "Hemoglobin"
	case TypeHbA1c:
		return "HbA1c"
	case TypeCholesterol:
		return "Cholesterol"
	}
	return string(t)
}

// Observation is a single extracted measurement. Blood pressure sets
// Systolic and Diastolic; every other type sets Value. Unit is always the
// canonical unit for the type.
type Observation struct {
	Type      Type    `json:"type"`
	Value     float64 `json:"value,omitempty"`
	Systolic  int     `json:"systolic,omitempty"`
	Diastolic int     `json:"diastolic,omitempty"`
	Unit      string  `json:"unit"`
}

// Payload is the JSON shape of an Observation. Blood pressure carries
// systolic and diastolic; every other type carries value, zero included.
type Payload struct {
	Type      Type     `json:"type"`
	Value     *float64 `json:"value,omitempty"`
	Systolic  *int     `json:"systolic,omitempty"`
	Diastolic *int     `json:"diastolic,omitempty"`
	Unit      string   `json:"unit"`
}

func (o Observation) Payload() Payload {
	p := Payload{Type: o.Type, Unit: o.Unit}
	if o.Type == TypeBloodPressure {
		sys, dia := o.Systolic, o.Diastolic
		p.Systolic, p.Diastolic = &sys, &dia
	} else {
		v := o.Value
		p.Value = &v
	}
	return p
}

func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Payload())
}

// Display renders the measurement with its unit, e.g. "128/82 mmHg".
func (o Observation) Display() string {
	var v string
	if o.Type == TypeBloodPressure {
		v = strconv.Itoa(o.Systolic) + "/" + strconv.Itoa(o.Diastolic)
	} else {
		v = strconv.FormatFloat(o.Value, 'f', -1, 64)
	}
	switch o.Unit {
	case "":
		return v
	case "%":
		return v + o.Unit
	}
	return v + " " + o.Unit
}

// UnitConversionRule scales a value written in From into To and rounds it
// to Precision decimal places.
type UnitConversionRule struct {
	From      string
	To        string
	Factor    float64
	Precision int
}

// Apply converts v.
func (c UnitConversionRule) Apply(v float64) float64 {
	return round(v*c.Factor, c.Precision)
}

func round(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}
