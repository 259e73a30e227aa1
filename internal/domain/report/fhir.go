package report

import (
	"strconv"
	"time"

	"github.com/ehr/medrecords/internal/platform/fhir"
	"github.com/ehr/medrecords/internal/platform/observation"
)

type loincCode struct {
	code    string
	display string
	lab     bool
}

var observationCodes = map[observation.Type]loincCode{
	observation.TypeBloodPressure: {"85354-9", "Blood pressure panel with all children optional", false},
	observation.TypeHeartRate:     {"8867-4", "Heart rate", false},
	observation.TypeTemperature:   {"8310-5", "Body temperature", false},
	observation.TypeGlucose:       {"2339-0", "Glucose [Mass/volume] in Blood", true},
	observation.TypeHemoglobin:    {"718-7", "Hemoglobin [Mass/volume] in Blood", true},
	observation.TypeHbA1c:         {"4548-4", "Hemoglobin A1c/Hemoglobin.total in Blood", true},
	observation.TypeCholesterol:   {"2093-3", "Cholesterol [Mass/volume] in Serum or Plasma", true},
}

var (
	systolicCode  = fhir.Coding{System: fhir.LOINCSystem, Code: "8480-6", Display: "Systolic blood pressure"}
	diastolicCode = fhir.Coding{System: fhir.LOINCSystem, Code: "8462-4", Display: "Diastolic blood pressure"}
)

// ucumCodes maps display units to UCUM codes.
var ucumCodes = map[string]string{
	"mmHg":   "mm[Hg]",
	"bpm":    "/min",
	"°C":     "Cel",
	"°F":     "[degF]",
	"mg/dL":  "mg/dL",
	"mmol/L": "mmol/L",
	"g/dL":   "g/dL",
	"%":      "%",
}

func quantity(v float64, unit string) *fhir.Quantity {
	q := &fhir.Quantity{Value: v, Unit: unit}
	if code, ok := ucumCodes[unit]; ok {
		q.System = fhir.UCUMSystem
		q.Code = code
	}
	return q
}

// ObservationToFHIR maps the n-th observation extracted from r to a FHIR R4
// Observation. Extracted values are unverified, so the status is
// preliminary.
func ObservationToFHIR(r *MedicalReport, n int, o observation.Observation) fhir.Observation {
	lc, ok := observationCodes[o.Type]
	code := fhir.CodeableConcept{Text: o.Type.Label()}
	if ok {
		code.Coding = []fhir.Coding{{System: fhir.LOINCSystem, Code: lc.code, Display: lc.display}}
	}

	category := fhir.ObservationCategoryVitals
	if lc.lab {
		category = fhir.ObservationCategoryLab
	}

	res := fhir.Observation{
		ResourceType: "Observation",
		ID:           r.ID.String() + "-" + strconv.Itoa(n),
		Status:       fhir.ObservationStatusPreliminary,
		Category: []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{System: fhir.ObservationCategorySystem, Code: category}},
		}},
		Code:        code,
		Issued:      r.UploadedAt.UTC().Format(time.RFC3339),
		DerivedFrom: []fhir.Reference{{Reference: fhir.FormatReference("DocumentReference", r.ID.String())}},
	}
	if r.ReportDate != nil {
		res.EffectiveDateTime = r.ReportDate.Format(time.RFC3339)
	}

	if o.Type == observation.TypeBloodPressure {
		res.Component = []fhir.ObservationComponent{
			{Code: fhir.CodeableConcept{Coding: []fhir.Coding{systolicCode}}, ValueQuantity: quantity(float64(o.Systolic), o.Unit)},
			{Code: fhir.CodeableConcept{Coding: []fhir.Coding{diastolicCode}}, ValueQuantity: quantity(float64(o.Diastolic), o.Unit)},
		}
	} else {
		res.ValueQuantity = quantity(o.Value, o.Unit)
	}
	return res
}
