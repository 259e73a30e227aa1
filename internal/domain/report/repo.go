package report

import (
	"context"

	"github.com/google/uuid"
)

// Search keys accepted by ReportRepository.Search.
const (
	SearchReportType = "report_type"
	SearchUploadedBy = "uploaded_by"
	SearchChecksum   = "checksum"
)

type ReportRepository interface {
	Create(ctx context.Context, r *MedicalReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalReport, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatientHash(ctx context.Context, hash string) ([]*MedicalReport, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicalReport, int, error)
}
