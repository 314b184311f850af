package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/styx8114/attackmap/internal/analysis"
	"github.com/styx8114/attackmap/internal/export"
	"github.com/styx8114/attackmap/internal/taxonomy"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	tax := &taxonomy.Taxonomy{
		Techniques:   map[string]string{"T1566": "Phishing"},
		MalwareNames: map[string]struct{}{"emotet": {}},
		MalwareTTPs:  map[string][]string{"emotet": {"T1566 – Phishing"}},
	}
	orch, err := analysis.New(tax, nil, 0, 0, false)
	if err != nil {
		t.Fatalf("analysis.New: %v", err)
	}

	dir := t.TempDir()
	exp, err := export.NewWriter(dir)
	if err != nil {
		t.Fatalf("export.NewWriter: %v", err)
	}

	return New(orch, exp, filepath.Join(dir, "feedback_log.txt"), 16, false)
}

// pdfUpload builds a multipart body around a one-page PDF with the given text.
func pdfUpload(t *testing.T, filename, text string) (*bytes.Buffer, string) {
	t.Helper()

	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n",
		"2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n",
		"3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n",
		fmt.Sprintf("4 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(content), content),
		"5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n",
	}
	var pdf bytes.Buffer
	pdf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = pdf.Len()
		pdf.WriteString(obj)
	}
	xrefPos := pdf.Len()
	fmt.Fprintf(&pdf, "xref\n0 %d\n", len(objects)+1)
	pdf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&pdf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&pdf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefPos)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(pdf.Bytes())
	mw.Close()

	return &body, mw.FormDataContentType()
}

func TestHandleAnalyze_Success(t *testing.T) {
	s := testServer(t)

	body, contentType := pdfUpload(t, "report.pdf", "Emotet spread via phishing on 2023-05-01.")
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Malware []struct {
			Name string `json:"name"`
		} `json:"malware"`
		ReportTTPs []struct {
			ID string `json:"id"`
		} `json:"report_ttps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Malware) != 1 || resp.Malware[0].Name != "Emotet" {
		t.Errorf("malware = %+v", resp.Malware)
	}
	if len(resp.ReportTTPs) != 1 || resp.ReportTTPs[0].ID != "T1566" {
		t.Errorf("report_ttps = %+v", resp.ReportTTPs)
	}

	// Results must now be persisted and readable.
	if _, err := os.Stat(s.exp.ResultsPath()); err != nil {
		t.Errorf("results not persisted: %v", err)
	}
}

func TestHandleAnalyze_MissingFile(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(""))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAnalyze_WrongExtension(t *testing.T) {
	s := testServer(t)

	body, contentType := pdfUpload(t, "report.docx", "irrelevant")
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAnalyze_UnreadablePDF(t *testing.T) {
	s := testServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "broken.pdf")
	fw.Write([]byte("not a pdf at all"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] == "" {
		t.Error("expected error message in response")
	}
}

func TestHandleResults_EmptyBeforeAnalysis(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/results", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Malware    []interface{} `json:"malware"`
		ReportTTPs []interface{} `json:"report_ttps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Malware) != 0 || len(resp.ReportTTPs) != 0 {
		t.Errorf("expected empty lists, got %+v", resp)
	}
}

func TestHandleFeedback(t *testing.T) {
	s := testServer(t)

	payload := `{"q1":"5","q2":"4","q3":"5","experience":"good","feedback":"nice tool"}`
	req := httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	data, err := os.ReadFile(s.feedbackLog)
	if err != nil {
		t.Fatalf("read feedback log: %v", err)
	}
	logged := string(data)
	for _, want := range []string{"Usefulness: 5", "Experience: good", "User Comment: nice tool", "---"} {
		if !strings.Contains(logged, want) {
			t.Errorf("feedback log missing %q:\n%s", want, logged)
		}
	}
}

func TestHandleFeedback_MissingFields(t *testing.T) {
	s := testServer(t)

	payload := `{"q1":"5","experience":"good"}`
	req := httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
