package report

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medrecords/internal/platform/blobstore"
	"github.com/ehr/medrecords/internal/platform/hipaa"
	"github.com/ehr/medrecords/internal/platform/observation"
	"github.com/ehr/medrecords/internal/platform/pdftext"
)

const pdfMimeType = "application/pdf"

// IdentifierVault is the part of hipaa.Vault the report service needs.
type IdentifierVault interface {
	Seal(plaintext string) (hipaa.Sealed, error)
	Hash(plaintext string) (string, error)
	Decrypt(sealed string) (string, error)
}

// Recorder receives pipeline counters. metrics.Metrics implements it.
type Recorder interface {
	ReportUploaded(outcome string)
	ObservationExtracted(observationType string)
}

type nopRecorder struct{}

func (nopRecorder) ReportUploaded(string)       {}
func (nopRecorder) ObservationExtracted(string) {}

// Upload outcomes reported to the Recorder.
const (
	outcomeStored   = "stored"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

type Service struct {
	repo        ReportRepository
	vault       IdentifierVault
	blobs       blobstore.BlobStore
	pdf         pdftext.Extractor
	extractor   *observation.Extractor
	maxFileSize int64
	logger      zerolog.Logger
	recorder    Recorder
}

func NewService(repo ReportRepository, vault IdentifierVault, blobs blobstore.BlobStore,
	pdf pdftext.Extractor, maxFileSize int64, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		vault:       vault,
		blobs:       blobs,
		pdf:         pdf,
		extractor:   observation.MustNewExtractor(observation.DefaultRules()),
		maxFileSize: maxFileSize,
		logger:      logger,
		recorder:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload validates and stores a PDF report. An unparseable PDF is still
// stored, with empty text and zero pages.
func (s *Service) Upload(ctx context.Context, in UploadInput) (r *MedicalReport, err error) {
	defer func() { s.recorder.ReportUploaded(uploadOutcome(err)) }()

	if len(in.Content) == 0 {
		return nil, ErrFileRequired
	}
	size := in.Size
	if size <= 0 {
		size = int64(len(in.Content))
	}
	if size > s.maxFileSize {
		return nil, fmt.Errorf("%w: max size %dMB", ErrFileTooLarge, s.maxFileSize/1024/1024)
	}

	var sealed hipaa.Sealed
	if pid := strings.TrimSpace(in.PatientID); pid != "" {
		if sealed, err = s.vault.Seal(pid); err != nil {
			return nil, err
		}
	}

	if !strings.HasSuffix(strings.ToLower(in.FileName), ".pdf") {
		return nil, ErrNotPDF
	}

	sum := sha256.Sum256(in.Content)

	doc, err := s.pdf.Extract(in.Content)
	if err != nil {
		s.logger.Warn().Err(err).Str("file_name", in.FileName).Msg("pdf text extraction failed")
		doc = pdftext.Document{}
	}

	blob, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    in.FileName,
		ContentType: pdfMimeType,
		CreatedBy:   in.UploadedBy,
	}, bytes.NewReader(in.Content))
	if err != nil {
		if errors.Is(err, blobstore.ErrFileTooLarge) {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("store report file: %w", err)
	}

	r = &MedicalReport{
		ID:               uuid.New(),
		FileName:         in.FileName,
		OriginalFileName: in.FileName,
		FileSize:         size,
		MimeType:         pdfMimeType,
		Checksum:         hex.EncodeToString(sum[:]),
		ExtractedText:    doc.Text,
		NormalizedText:   NormalizeText(doc.Text),
		UploadedBy:       in.UploadedBy,
		PageCount:        doc.PageCount,
		PatientID:        strPtr(sealed.Ciphertext),
		PatientIDHash:    strPtr(sealed.BlindIndex),
		ReportType:       strPtr(strings.TrimSpace(in.ReportType)),
		ReportDate:       in.ReportDate,
		BlobID:           blob.ID,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		if derr := s.blobs.Delete(ctx, blob.ID); derr != nil {
			s.logger.Error().Err(derr).Str("blob_id", blob.ID).Msg("orphaned report blob")
		}
		return nil, fmt.Errorf("save report: %w", err)
	}

	s.logger.Info().
		Str("report_id", r.ID.String()).
		Int("page_count", r.PageCount).
		Int64("file_size", r.FileSize).
		Bool("has_patient", r.PatientIDHash != nil).
		Msg("report uploaded")
	return r, nil
}

func uploadOutcome(err error) string {
	switch {
	case err == nil:
		return outcomeStored
	case errors.Is(err, ErrFileRequired), errors.Is(err, ErrFileTooLarge),
		errors.Is(err, ErrNotPDF), errors.Is(err, hipaa.ErrInvalidFormat):
		return outcomeRejected
	}
	return outcomeFailed
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*MedicalReport, error) {
	return s.repo.GetByID(ctx, id)
}

// Delete removes the record and then its stored file.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if r.BlobID != "" {
		if err := s.blobs.Delete(ctx, r.BlobID); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			s.logger.Error().Err(err).Str("blob_id", r.BlobID).Msg("delete report blob")
		}
	}
	return nil
}

func (s *Service) List(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicalReport, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// ListByPatient hashes the plaintext identifier and looks reports up by
// blind index.
func (s *Service) ListByPatient(ctx context.Context, plainID string) ([]*MedicalReport, error) {
	hash, err := s.vault.Hash(plainID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByPatientHash(ctx, hash)
}

// PatientRef returns the blind index for plainID. Patient tokens carry the
// same value, so ownership checks never touch plaintext.
func (s *Service) PatientRef(plainID string) (string, error) {
	return s.vault.Hash(plainID)
}

// Observations runs the extractor over the report's normalized text.
func (s *Service) Observations(ctx context.Context, id uuid.UUID) (*MedicalReport, []observation.Observation, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	obs := s.extractor.Extract(r.NormalizedText)
	for _, o := range obs {
		s.recorder.ObservationExtracted(string(o.Type))
	}
	return r, obs, nil
}

// File opens the stored original upload.
func (s *Service) File(ctx context.Context, id uuid.UUID) (*MedicalReport, io.ReadCloser, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.blobs.Download(ctx, r.BlobID)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return r, rc, nil
}

// Present builds the API view of r.
func (s *Service) Present(r *MedicalReport) Response {
	resp := Response{
		ID:               r.ID,
		FileName:         r.FileName,
		OriginalFileName: r.OriginalFileName,
		FileSize:         r.FileSize,
		MimeType:         r.MimeType,
		Checksum:         r.Checksum,
		ExtractedText:    r.ExtractedText,
		NormalizedText:   r.NormalizedText,
		UploadedAt:       r.UploadedAt,
		UploadedBy:       r.UploadedBy,
		PageCount:        r.PageCount,
		PatientID:        r.PatientID,
		ReportType:       r.ReportType,
		ReportDate:       r.ReportDate,
	}
	if r.PatientID != nil {
		if plain, err := s.vault.Decrypt(*r.PatientID); err == nil {
			if masked, err := hipaa.Mask(plain); err == nil {
				resp.MaskedAadhaar = &masked
			}
		}
	}
	return resp
}

func (s *Service) PresentAll(items []*MedicalReport) []Response {
	out := make([]Response, 0, len(items))
	for _, r := range items {
		out = append(out, s.Present(r))
	}
	return out
}
