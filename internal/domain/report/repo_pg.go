package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type reportRepoPG struct{ db queryable }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository {
	return &reportRepoPG{db: pool}
}

const reportCols = `id, file_name, original_file_name, file_size, mime_type,
	checksum, extracted_text, normalized_text, uploaded_by, page_count,
	patient_id, patient_id_hash, report_type, report_date, blob_id, uploaded_at`

// searchColumns whitelists the filters Search turns into SQL.
var searchColumns = map[string]string{
	SearchReportType: "report_type",
	SearchUploadedBy: "uploaded_by",
	SearchChecksum:   "checksum",
}

func (r *reportRepoPG) scanRow(row pgx.Row) (*MedicalReport, error) {
	var m MedicalReport
	err := row.Scan(&m.ID, &m.FileName, &m.OriginalFileName, &m.FileSize, &m.MimeType,
		&m.Checksum, &m.ExtractedText, &m.NormalizedText, &m.UploadedBy, &m.PageCount,
		&m.PatientID, &m.PatientIDHash, &m.ReportType, &m.ReportDate, &m.BlobID, &m.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *reportRepoPG) Create(ctx context.Context, m *MedicalReport) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO medical_reports (id, file_name, original_file_name, file_size, mime_type,
			checksum, extracted_text, normalized_text, uploaded_by, page_count,
			patient_id, patient_id_hash, report_type, report_date, blob_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING uploaded_at`,
		m.ID, m.FileName, m.OriginalFileName, m.FileSize, m.MimeType,
		m.Checksum, m.ExtractedText, m.NormalizedText, m.UploadedBy, m.PageCount,
		m.PatientID, m.PatientIDHash, m.ReportType, m.ReportDate, m.BlobID,
	).Scan(&m.UploadedAt)
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalReport, error) {
	return r.scanRow(r.db.QueryRow(ctx, `SELECT `+reportCols+` FROM medical_reports WHERE id = $1`, id))
}

func (r *reportRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM medical_reports WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *reportRepoPG) ListByPatientHash(ctx context.Context, hash string) ([]*MedicalReport, error) {
	rows, err := r.db.Query(ctx, `SELECT `+reportCols+` FROM medical_reports
		WHERE patient_id_hash = $1 ORDER BY uploaded_at DESC`, hash)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *reportRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicalReport, int, error) {
	query := `SELECT ` + reportCols + ` FROM medical_reports WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM medical_reports WHERE 1=1`
	var args []interface{}
	idx := 1

	for _, key := range []string{SearchReportType, SearchUploadedBy, SearchChecksum} {
		v, ok := params[key]
		if !ok || v == "" {
			continue
		}
		clause := fmt.Sprintf(` AND %s = $%d`, searchColumns[key], idx)
		query += clause
		countQuery += clause
		args = append(args, v)
		idx++
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY uploaded_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *reportRepoPG) collect(rows pgx.Rows) ([]*MedicalReport, error) {
	defer rows.Close()
	var items []*MedicalReport
	for rows.Next() {
		m, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
