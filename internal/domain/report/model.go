package report

import (
	"time"

	"github.com/google/uuid"
)

// MedicalReport maps to the medical_reports table. PatientID holds the
// sealed identifier; PatientIDHash is its blind index and the only column
// used for lookups.
type MedicalReport struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	FileName         string     `db:"file_name" json:"file_name"`
	OriginalFileName string     `db:"original_file_name" json:"original_file_name"`
	FileSize         int64      `db:"file_size" json:"file_size"`
	MimeType         string     `db:"mime_type" json:"mime_type"`
	Checksum         string     `db:"checksum" json:"checksum"`
	ExtractedText    string     `db:"extracted_text" json:"extracted_text"`
	NormalizedText   string     `db:"normalized_text" json:"normalized_text"`
	UploadedBy       string     `db:"uploaded_by" json:"uploaded_by"`
	PageCount        int        `db:"page_count" json:"page_count"`
	PatientID        *string    `db:"patient_id" json:"-"`
	PatientIDHash    *string    `db:"patient_id_hash" json:"-"`
	ReportType       *string    `db:"report_type" json:"report_type,omitempty"`
	ReportDate       *time.Time `db:"report_date" json:"report_date,omitempty"`
	BlobID           string     `db:"blob_id" json:"-"`
	UploadedAt       time.Time  `db:"uploaded_at" json:"uploaded_at"`
}

// Response is the API view of a report. The sealed identifier is returned
// as stored; MaskedAadhaar is filled only when it can be unsealed.
type Response struct {
	ID               uuid.UUID  `json:"id"`
	FileName         string     `json:"file_name"`
	OriginalFileName string     `json:"original_file_name"`
	FileSize         int64      `json:"file_size"`
	MimeType         string     `json:"mime_type"`
	Checksum         string     `json:"checksum"`
	ExtractedText    string     `json:"extracted_text"`
	NormalizedText   string     `json:"normalized_text"`
	UploadedAt       time.Time  `json:"uploaded_at"`
	UploadedBy       string     `json:"uploaded_by"`
	PageCount        int        `json:"page_count"`
	PatientID        *string    `json:"patient_id,omitempty"`
	ReportType       *string    `json:"report_type,omitempty"`
	ReportDate       *time.Time `json:"report_date,omitempty"`
	MaskedAadhaar    *string    `json:"masked_aadhaar,omitempty"`
}

// UploadInput carries one multipart upload into the service.
type UploadInput struct {
	FileName   string
	Size       int64
	Content    []byte
	UploadedBy string
	PatientID  string
	ReportType string
	ReportDate *time.Time
}

// ownedBy reports whether the stored blind index equals ref.
func (r *MedicalReport) ownedBy(ref string) bool {
	return ref != "" && r.PatientIDHash != nil && *r.PatientIDHash == ref
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
