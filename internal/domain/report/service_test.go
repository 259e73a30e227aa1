package report

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medrecords/internal/platform/blobstore"
	"github.com/ehr/medrecords/internal/platform/hipaa"
	"github.com/ehr/medrecords/internal/platform/observation"
	"github.com/ehr/medrecords/internal/platform/pdftext"
)

const (
	testAadhaar  = "123456789012"
	otherAadhaar = "987654321098"
	testMaxSize  = 1 << 20
)

// -- Mocks --

type mockReportRepo struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*MedicalReport
	createErr error
	getErr    error
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{items: make(map[uuid.UUID]*MedicalReport)}
}

func (m *mockReportRepo) Create(_ context.Context, r *MedicalReport) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.UploadedAt = time.Now().UTC()
	m.items[r.ID] = r
	return nil
}

func (m *mockReportRepo) GetByID(_ context.Context, id uuid.UUID) (*MedicalReport, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *mockReportRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockReportRepo) ListByPatientHash(_ context.Context, hash string) ([]*MedicalReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*MedicalReport
	for _, r := range m.items {
		if r.PatientIDHash != nil && *r.PatientIDHash == hash {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockReportRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*MedicalReport, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*MedicalReport
	for _, r := range m.items {
		if v := params[SearchReportType]; v != "" && (r.ReportType == nil || *r.ReportType != v) {
			continue
		}
		if v := params[SearchUploadedBy]; v != "" && r.UploadedBy != v {
			continue
		}
		if v := params[SearchChecksum]; v != "" && r.Checksum != v {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

// fakePDF returns the uploaded bytes as text, or fails when err is set.
type fakePDF struct {
	err   error
	pages int
}

func (f fakePDF) Extract(data []byte) (pdftext.Document, error) {
	if f.err != nil {
		return pdftext.Document{}, f.err
	}
	return pdftext.Document{Text: string(data), PageCount: f.pages}, nil
}

type testEnv struct {
	svc   *Service
	repo  *mockReportRepo
	blobs *blobstore.InMemoryBlobStore
	vault *hipaa.Vault
}

func newTestEnv(t *testing.T, pdf pdftext.Extractor) *testEnv {
	t.Helper()
	key, err := hipaa.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	vault, err := hipaa.NewVault(key)
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	repo := newMockReportRepo()
	blobs := blobstore.NewInMemoryBlobStore(testMaxSize)
	return &testEnv{
		svc:   NewService(repo, vault, blobs, pdf, testMaxSize, zerolog.Nop()),
		repo:  repo,
		blobs: blobs,
		vault: vault,
	}
}

func newTestService(t *testing.T) *testEnv {
	return newTestEnv(t, fakePDF{pages: 1})
}

func uploadInput(content string) UploadInput {
	return UploadInput{
		FileName:   "lab.pdf",
		Content:    []byte(content),
		UploadedBy: "diag-1",
		PatientID:  testAadhaar,
		ReportType: "lab",
	}
}

// -- Tests --

func TestService_Upload(t *testing.T) {
	env := newTestService(t)
	text := "BP:\t128/82  mmHg\r\nGlucose – 5.8 mmol/L"

	r, err := env.svc.Upload(context.Background(), uploadInput(text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if r.MimeType != "application/pdf" {
		t.Errorf("expected application/pdf, got %s", r.MimeType)
	}
	if r.FileName != "lab.pdf" || r.OriginalFileName != "lab.pdf" {
		t.Errorf("unexpected file names: %s / %s", r.FileName, r.OriginalFileName)
	}
	if r.FileSize != int64(len(text)) {
		t.Errorf("expected size %d, got %d", len(text), r.FileSize)
	}
	if len(r.Checksum) != 64 {
		t.Errorf("expected hex sha256 checksum, got %q", r.Checksum)
	}
	if r.ExtractedText != text {
		t.Errorf("expected raw extracted text to be kept")
	}
	if r.NormalizedText != "BP: 128/82 mmHg \nGlucose - 5.8 mmol/L" {
		t.Errorf("unexpected normalized text: %q", r.NormalizedText)
	}
	if r.PageCount != 1 {
		t.Errorf("expected 1 page, got %d", r.PageCount)
	}
	if r.ReportType == nil || *r.ReportType != "lab" {
		t.Errorf("expected report type lab, got %v", r.ReportType)
	}
	if r.UploadedBy != "diag-1" {
		t.Errorf("expected uploader diag-1, got %s", r.UploadedBy)
	}

	if r.PatientID == nil || *r.PatientID == testAadhaar {
		t.Fatal("expected patient id to be sealed")
	}
	plain, err := env.vault.Decrypt(*r.PatientID)
	if err != nil || plain != testAadhaar {
		t.Errorf("sealed patient id does not round trip: %q, %v", plain, err)
	}
	wantHash, _ := env.vault.Hash(testAadhaar)
	if r.PatientIDHash == nil || *r.PatientIDHash != wantHash {
		t.Errorf("expected blind index %s, got %v", wantHash, r.PatientIDHash)
	}

	rc, meta, err := env.blobs.Download(context.Background(), r.BlobID)
	if err != nil {
		t.Fatalf("expected stored blob: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != text {
		t.Error("stored blob does not match upload")
	}
	if meta.Hash != r.Checksum {
		t.Errorf("blob hash %s differs from report checksum %s", meta.Hash, r.Checksum)
	}
}

func TestService_Upload_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*UploadInput)
		wantErr error
	}{
		{"empty file", func(in *UploadInput) { in.Content = nil }, ErrFileRequired},
		{"too large", func(in *UploadInput) { in.Size = testMaxSize + 1 }, ErrFileTooLarge},
		{"not pdf", func(in *UploadInput) { in.FileName = "scan.png" }, ErrNotPDF},
		{"no extension", func(in *UploadInput) { in.FileName = "report" }, ErrNotPDF},
		{"bad patient id", func(in *UploadInput) { in.PatientID = "1234" }, hipaa.ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestService(t)
			in := uploadInput("Hb 13.5 g/dL")
			tt.mutate(&in)
			_, err := env.svc.Upload(context.Background(), in)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if len(env.repo.items) != 0 {
				t.Error("expected nothing to be saved")
			}
		})
	}
}

func TestService_Upload_UppercaseExtension(t *testing.T) {
	env := newTestService(t)
	in := uploadInput("HR 72 bpm")
	in.FileName = "REPORT.PDF"
	if _, err := env.svc.Upload(context.Background(), in); err != nil {
		t.Fatalf("expected .PDF to be accepted, got %v", err)
	}
}

func TestService_Upload_WithoutPatient(t *testing.T) {
	env := newTestService(t)
	in := uploadInput("HR 72 bpm")
	in.PatientID = "   "
	r, err := env.svc.Upload(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.PatientID != nil || r.PatientIDHash != nil {
		t.Error("expected blank patient id to be stored as null")
	}
}

func TestService_Upload_UnreadablePDF(t *testing.T) {
	env := newTestEnv(t, fakePDF{err: pdftext.ErrUnreadable})
	r, err := env.svc.Upload(context.Background(), uploadInput("%PDF-garbage"))
	if err != nil {
		t.Fatalf("expected unreadable pdf to be stored, got %v", err)
	}
	if r.ExtractedText != "" || r.NormalizedText != "" || r.PageCount != 0 {
		t.Errorf("expected empty text and zero pages, got %q/%q/%d", r.ExtractedText, r.NormalizedText, r.PageCount)
	}
}

// recordingBlobs remembers the IDs it has stored.
type recordingBlobs struct {
	*blobstore.InMemoryBlobStore
	ids []string
}

func (r *recordingBlobs) Upload(ctx context.Context, meta blobstore.BlobMetadata, content io.Reader) (*blobstore.BlobMetadata, error) {
	out, err := r.InMemoryBlobStore.Upload(ctx, meta, content)
	if err == nil {
		r.ids = append(r.ids, out.ID)
	}
	return out, err
}

func TestService_Upload_RepoFailureRemovesBlob(t *testing.T) {
	env := newTestService(t)
	blobs := &recordingBlobs{InMemoryBlobStore: env.blobs}
	env.svc.blobs = blobs
	env.repo.createErr = errors.New("db down")

	if _, err := env.svc.Upload(context.Background(), uploadInput("HR 72 bpm")); err == nil {
		t.Fatal("expected error")
	}
	if len(blobs.ids) != 1 {
		t.Fatalf("expected one blob upload, got %d", len(blobs.ids))
	}
	if _, err := blobs.GetMetadata(context.Background(), blobs.ids[0]); !errors.Is(err, blobstore.ErrBlobNotFound) {
		t.Errorf("expected orphaned blob to be removed, got %v", err)
	}
}

func TestService_ListByPatient(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := env.svc.Upload(ctx, uploadInput("HR 72 bpm")); err != nil {
			t.Fatal(err)
		}
	}
	other := uploadInput("HR 80 bpm")
	other.PatientID = otherAadhaar
	if _, err := env.svc.Upload(ctx, other); err != nil {
		t.Fatal(err)
	}

	items, err := env.svc.ListByPatient(ctx, testAadhaar)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 reports, got %d", len(items))
	}

	none, err := env.svc.ListByPatient(ctx, "111122223333")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no reports, got %d", len(none))
	}

	if _, err := env.svc.ListByPatient(ctx, "not-an-id"); !errors.Is(err, hipaa.ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestService_List_Filters(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	lab := uploadInput("HR 72 bpm")
	scan := uploadInput("HR 73 bpm")
	scan.ReportType = "radiology"
	for _, in := range []UploadInput{lab, scan} {
		if _, err := env.svc.Upload(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	all, total, err := env.svc.List(ctx, nil, 10, 0)
	if err != nil || total != 2 || len(all) != 2 {
		t.Fatalf("expected 2 reports, got %d (total %d, err %v)", len(all), total, err)
	}
	items, total, err := env.svc.List(ctx, map[string]string{SearchReportType: "radiology"}, 10, 0)
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("expected 1 radiology report, got %d (total %d, err %v)", len(items), total, err)
	}
}

func TestService_Delete(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	r, err := env.svc.Upload(ctx, uploadInput("HR 72 bpm"))
	if err != nil {
		t.Fatal(err)
	}

	if err := env.svc.Delete(ctx, r.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.Get(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := env.blobs.GetMetadata(ctx, r.BlobID); !errors.Is(err, blobstore.ErrBlobNotFound) {
		t.Errorf("expected blob to be removed, got %v", err)
	}
	if err := env.svc.Delete(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestService_Observations(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	r, err := env.svc.Upload(ctx, uploadInput("BP – 128/82 mmHg, Glucose: 5.8 mmol/L"))
	if err != nil {
		t.Fatal(err)
	}

	_, obs, err := env.svc.Observations(ctx, r.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %+v", obs)
	}
	if obs[0].Type != observation.TypeBloodPressure || obs[0].Systolic != 128 || obs[0].Diastolic != 82 {
		t.Errorf("unexpected blood pressure: %+v", obs[0])
	}
	if obs[1].Type != observation.TypeGlucose || obs[1].Value != 104.4 || obs[1].Unit != "mg/dL" {
		t.Errorf("unexpected glucose: %+v", obs[1])
	}

	if _, _, err := env.svc.Observations(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_File(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	r, err := env.svc.Upload(ctx, uploadInput("HR 72 bpm"))
	if err != nil {
		t.Fatal(err)
	}
	_, rc, err := env.svc.File(ctx, r.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "HR 72 bpm" {
		t.Errorf("unexpected file content %q", data)
	}

	r.BlobID = uuid.New().String()
	if _, _, err := env.svc.File(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing blob, got %v", err)
	}
}

func TestService_Present(t *testing.T) {
	env := newTestService(t)
	r, err := env.svc.Upload(context.Background(), uploadInput("HR 72 bpm"))
	if err != nil {
		t.Fatal(err)
	}

	resp := env.svc.Present(r)
	if resp.MaskedAadhaar == nil || *resp.MaskedAadhaar != "XXXX-XXXX-9012" {
		t.Errorf("expected masked identifier, got %v", resp.MaskedAadhaar)
	}
	if resp.PatientID == nil || *resp.PatientID != *r.PatientID {
		t.Error("expected sealed patient id in response")
	}

	tampered := *r
	bad := strings.Repeat("A", 40)
	tampered.PatientID = &bad
	if resp := env.svc.Present(&tampered); resp.MaskedAadhaar != nil {
		t.Errorf("expected mask to be omitted on decrypt failure, got %v", *resp.MaskedAadhaar)
	}

	anonymous := *r
	anonymous.PatientID = nil
	if resp := env.svc.Present(&anonymous); resp.MaskedAadhaar != nil {
		t.Error("expected no mask without a patient id")
	}
}

type countingRecorder struct {
	uploads      map[string]int
	observations map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{uploads: map[string]int{}, observations: map[string]int{}}
}

func (c *countingRecorder) ReportUploaded(outcome string)  { c.uploads[outcome]++ }
func (c *countingRecorder) ObservationExtracted(t string) { c.observations[t]++ }

func TestService_RecordsOutcomes(t *testing.T) {
	env := newTestService(t)
	rec := newCountingRecorder()
	WithRecorder(rec)(env.svc)
	ctx := context.Background()

	r, err := env.svc.Upload(ctx, uploadInput("BP: 128/82 mmHg HR 72 bpm"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	notPDF := uploadInput("x")
	notPDF.FileName = "scan.png"
	if _, err := env.svc.Upload(ctx, notPDF); !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}

	env.repo.createErr = errors.New("db down")
	if _, err := env.svc.Upload(ctx, uploadInput("x")); err == nil {
		t.Fatal("expected repository error")
	}
	env.repo.createErr = nil

	if _, _, err := env.svc.Observations(ctx, r.ID); err != nil {
		t.Fatalf("observations: %v", err)
	}

	want := map[string]int{outcomeStored: 1, outcomeRejected: 1, outcomeFailed: 1}
	for k, v := range want {
		if rec.uploads[k] != v {
			t.Errorf("uploads[%s] = %d, want %d", k, rec.uploads[k], v)
		}
	}
	if rec.observations[string(observation.TypeBloodPressure)] != 1 || rec.observations[string(observation.TypeHeartRate)] != 1 {
		t.Errorf("unexpected observation counts: %v", rec.observations)
	}
}
