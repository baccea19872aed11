package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractvault/contractvault/internal/auth"
	"github.com/contractvault/contractvault/internal/config"
	"github.com/contractvault/contractvault/internal/contract"
	"github.com/contractvault/contractvault/internal/extract"
	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/metadata/memory"
	"github.com/contractvault/contractvault/internal/storage"
	"github.com/contractvault/contractvault/internal/storage/local"
)

func init() {
	logging.InitNop()
}

type testResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	handler http.Handler
	store   *memory.Store
	root    string
}

// newTestServer wires the real service over an in-memory store and a local
// backend in a temp dir. Files whose bytes start with "corrupt" fail
// extraction.
func newTestServer(t *testing.T, maxUpload int64) *testServer {
	return newTestServerWithAuth(t, maxUpload, nil)
}

func newTestServerWithAuth(t *testing.T, maxUpload int64, authHandler *auth.Auth) *testServer {
	t.Helper()
	root := t.TempDir()
	backend, err := local.New(local.Config{RootPath: root})
	require.NoError(t, err)
	router, err := storage.NewRouter([]storage.Backend{backend})
	require.NoError(t, err)

	extractor := extract.ExtractorFunc(func(_ context.Context, data []byte, _ string) (string, error) {
		if bytes.HasPrefix(data, []byte("corrupt")) {
			return "", errors.New("unreadable document")
		}
		return string(data), nil
	})

	store := memory.New()
	vm, err := contract.NewVersionManager(store, router, extractor, contract.VersionConfig{
		HashAlgorithm:           "sha256",
		HashScope:               config.HashScopeGlobal,
		CleanupOnExtractFailure: true,
	})
	require.NoError(t, err)

	srv := NewServer(contract.NewService(store, router, vm), nil, authHandler, maxUpload)
	return &testServer{handler: srv.Handler(), store: store, root: root}
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, testResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var resp testResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func jsonRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CreatorHeader, "u-1")
	return req
}

// multipartRequest builds a form with the given file parts (field ->
// name -> bytes, in order) and plain fields.
func multipartRequest(t *testing.T, url string, files []filePart, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(CreatorHeader, "u-1")
	return req
}

type filePart struct {
	field string
	name  string
	data  []byte
}

func createContract(t *testing.T, ts *testServer, number string) contract.Contract {
	t.Helper()
	rec, resp := ts.do(t, jsonRequest(t, http.MethodPost, "/api/v1/contracts", map[string]any{
		"contract_number": number,
		"contract_name":   "Supply agreement " + number,
		"party_a_id":      7,
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c contract.Contract
	require.NoError(t, json.Unmarshal(resp.Data, &c))
	return c
}

func addVersion(t *testing.T, ts *testServer, id int64, name, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec, _ := ts.do(t, multipartRequest(t, fmt.Sprintf("/api/v1/contracts/%d/versions", id),
		[]filePart{{"file", name, []byte(body)}}, map[string]string{"remark": "signed copy"}))
	return rec
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0)
	rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthReportsDatabaseDown(t *testing.T) {
	srv := NewServer(nil, failingPinger{}, nil, 0)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBearerTokenSetsCreator(t *testing.T) {
	authHandler := auth.New("api-secret")
	ts := newTestServerWithAuth(t, 0, authHandler)

	body := map[string]any{"contract_number": "T-1", "contract_name": "Tokened"}
	req := jsonRequest(t, http.MethodPost, "/api/v1/contracts", body)
	rec, _ := ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := authHandler.IssueToken("u-99", "bob", time.Hour)
	require.NoError(t, err)
	req = jsonRequest(t, http.MethodPost, "/api/v1/contracts", body)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec, resp := ts.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c contract.Contract
	require.NoError(t, json.Unmarshal(resp.Data, &c))
	// The token wins over the header
	assert.Equal(t, "u-99", c.CreatorID)

	rec, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetContract(t *testing.T) {
	ts := newTestServer(t, 0)
	c := createContract(t, ts, "C-2024-001")
	assert.Equal(t, "u-1", c.CreatorID)
	assert.Equal(t, contract.StatusDraft, c.Status)

	rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/contracts/%d", c.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got contract.Contract
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "C-2024-001", got.Number)

	rec, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/contracts/number/C-2024-001", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp = ts.do(t, jsonRequest(t, http.MethodPost, "/api/v1/contracts", map[string]any{
		"contract_number": "C-2024-001",
		"contract_name":   "Again",
	}))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestCreateContractWithInitialFile(t *testing.T) {
	ts := newTestServer(t, 0)
	req := multipartRequest(t, "/api/v1/contracts",
		[]filePart{{"file", "lease.docx", []byte("Lease terms")}},
		map[string]string{"contract": `{"contract_number":"L-1","contract_name":"Lease"}`})
	rec, resp := ts.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var c contract.Contract
	require.NoError(t, json.Unmarshal(resp.Data, &c))

	rec, resp = ts.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/contracts/%d/versions/latest", c.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var v contract.Version
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	assert.Equal(t, 1, v.Number)
	assert.Equal(t, contract.RemarkInitialVersion, v.Remark)
	assert.True(t, strings.HasPrefix(v.Location, ts.root), v.Location)
}

func TestRequestErrors(t *testing.T) {
	ts := newTestServer(t, 0)
	c := createContract(t, ts, "E-1")

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"missing contract", httptest.NewRequest(http.MethodGet, "/api/v1/contracts/999", nil), http.StatusNotFound},
		{"bad id", httptest.NewRequest(http.MethodGet, "/api/v1/contracts/abc", nil), http.StatusBadRequest},
		{"missing number", httptest.NewRequest(http.MethodGet, "/api/v1/contracts/number/NOPE", nil), http.StatusNotFound},
		{"no versions yet", httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/contracts/%d/versions/latest", c.ID), nil), http.StatusNotFound},
		{"bad version number", httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/contracts/%d/versions/zero", c.ID), nil), http.StatusBadRequest},
		{"empty keyword", httptest.NewRequest(http.MethodGet, "/api/v1/search", nil), http.StatusBadRequest},
		{"invalid body", httptest.NewRequest(http.MethodPost, "/api/v1/contracts", strings.NewReader("{")), http.StatusBadRequest},
		{"compare needs both", httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/contracts/%d/compare?v1=1", c.ID), nil), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := ts.do(t, tt.req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestVersionLifecycle(t *testing.T) {
	ts := newTestServer(t, 0)
	c := createContract(t, ts, "NDA-7")
	base := fmt.Sprintf("/api/v1/contracts/%d", c.ID)

	rec := addVersion(t, ts, c.ID, "nda.pdf", "Preamble: NDA governs\tdisclosure")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = addVersion(t, ts, c.ID, "nda-v2.pdf", "Preamble: NDA governs the disclosure of <secrets>")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	t.Run("list", func(t *testing.T) {
		rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/versions", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var versions []contract.Version
		require.NoError(t, json.Unmarshal(resp.Data, &versions))
		require.Len(t, versions, 2)
	})

	t.Run("get by number", func(t *testing.T) {
		rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/versions/1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var v contract.Version
		require.NoError(t, json.Unmarshal(resp.Data, &v))
		assert.Equal(t, "nda.pdf", v.FileName)
		assert.Equal(t, "signed copy", v.Remark)
		assert.Len(t, v.ContentHash, 64)
	})

	t.Run("duplicate content", func(t *testing.T) {
		rec := addVersion(t, ts, c.ID, "copy.pdf", "Preamble: NDA governs\tdisclosure")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unsupported format", func(t *testing.T) {
		rec := addVersion(t, ts, c.ID, "contract.xlsx", "cells")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("extraction failure", func(t *testing.T) {
		rec := addVersion(t, ts, c.ID, "broken.pdf", "corrupt bytes")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("html content", func(t *testing.T) {
		rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/content?version=1&kind=html", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(resp.Data, &body))
		assert.Equal(t, "Preamble: NDA governs&nbsp;&nbsp;&nbsp;&nbsp;disclosure", body["content"])
	})

	t.Run("compare", func(t *testing.T) {
		rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/compare?v1=1&v2=2", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var cmp contract.Comparison
		require.NoError(t, json.Unmarshal(resp.Data, &cmp))
		assert.Equal(t, "Preamble: NDA governs\tdisclosure", cmp.Content1)
		assert.Contains(t, cmp.Content2, "<secrets>")
	})

	t.Run("export txt", func(t *testing.T) {
		rec, _ := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/export?version=1&format=txt", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "filename=nda.txt")
		assert.Equal(t, "Preamble: NDA governs\tdisclosure", rec.Body.String())
	})

	t.Run("export html of latest", func(t *testing.T) {
		rec, _ := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/export?format=html", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Preamble: NDA governs the disclosure of &lt;secrets&gt;", rec.Body.String())
	})

	t.Run("export original", func(t *testing.T) {
		rec, _ := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/export?version=2&format=original", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Equal(t, "Preamble: NDA governs the disclosure of <secrets>", rec.Body.String())
	})

	t.Run("search within contract", func(t *testing.T) {
		rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/search?keyword=nda", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var matches []contract.Match
		require.NoError(t, json.Unmarshal(resp.Data, &matches))
		require.Len(t, matches, 1)
		assert.Equal(t, 10, matches[0].Position)
		assert.Equal(t, 2, matches[0].VersionNumber)
		assert.Contains(t, matches[0].Context, "<mark>NDA</mark>")
	})

	t.Run("search all", func(t *testing.T) {
		rec, resp := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/search?keyword=secrets", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var matches []contract.ContractMatch
		require.NoError(t, json.Unmarshal(resp.Data, &matches))
		require.Len(t, matches, 1)
		assert.Equal(t, c.ID, matches[0].ContractID)
	})
}

func TestUploadAndBatchUpload(t *testing.T) {
	ts := newTestServer(t, 0)

	rec, resp := ts.do(t, multipartRequest(t, "/api/v1/contracts/upload",
		[]filePart{{"file", "Master Services.pdf", []byte("msa body")}}, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item contract.BatchItem
	require.NoError(t, json.Unmarshal(resp.Data, &item))
	assert.Equal(t, "Master Services", item.Contract.Name)
	assert.True(t, strings.HasPrefix(item.Contract.Number, "DRAFT-"))
	assert.Equal(t, 1, item.Version.Number)

	rec, resp = ts.do(t, multipartRequest(t, "/api/v1/contracts/batch-upload", []filePart{
		{"files", "a.pdf", []byte("alpha")},
		{"files", "b.xlsx", []byte("beta")},
		{"files", "c.docx", []byte("gamma")},
	}, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result contract.BatchResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Len(t, result.Succeeded, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "b.xlsx", result.Failed[0].FileName)

	rec, resp = ts.do(t, multipartRequest(t, "/api/v1/contracts/batch-upload", []filePart{
		{"files", "x.xlsx", []byte("x")},
	}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Len(t, result.Failed, 1)
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, 256)
	rec, _ := ts.do(t, multipartRequest(t, "/api/v1/contracts/upload",
		[]filePart{{"file", "big.pdf", bytes.Repeat([]byte("x"), 1024)}}, nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUpdateStatusAndList(t *testing.T) {
	ts := newTestServer(t, 0)
	a := createContract(t, ts, "A-1")
	createContract(t, ts, "B-1")

	rec, resp := ts.do(t, jsonRequest(t, http.MethodPut, fmt.Sprintf("/api/v1/contracts/%d/status", a.ID),
		map[string]any{"status": 2}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated contract.Contract
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.Equal(t, contract.StatusApproved, updated.Status)

	rec, _ = ts.do(t, jsonRequest(t, http.MethodPut, fmt.Sprintf("/api/v1/contracts/%d/status", a.ID),
		map[string]any{"status": 9}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = ts.do(t, jsonRequest(t, http.MethodPut, fmt.Sprintf("/api/v1/contracts/%d", a.ID),
		map[string]any{"contract_name": "Renamed", "department": "legal"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.Equal(t, "Renamed", updated.Name)

	rec, resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/contracts?status=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []contract.Contract
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	rec, resp = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/contracts?department=finance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Empty(t, list)

	rec, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/contracts?status=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteContract(t *testing.T) {
	ts := newTestServer(t, 0)
	c := createContract(t, ts, "D-1")
	require.Equal(t, http.StatusCreated, addVersion(t, ts, c.ID, "d.pdf", "one").Code)
	require.Equal(t, http.StatusCreated, addVersion(t, ts, c.ID, "d2.pdf", "two").Code)

	live, err := ts.store.LiveLocations(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 2)

	url := fmt.Sprintf("/api/v1/contracts/%d", c.ID)
	rec, resp := ts.do(t, httptest.NewRequest(http.MethodDelete, url, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result contract.DeleteResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, 2, result.VersionsRemoved)
	assert.Empty(t, result.CleanupFailed)

	for loc := range live {
		assert.NoFileExists(t, loc)
	}

	rec, _ = ts.do(t, httptest.NewRequest(http.MethodGet, url, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = ts.do(t, httptest.NewRequest(http.MethodDelete, url, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassify(t *testing.T) {
	unreachable := storage.Unreachable(storage.SchemeRemote, "put", errors.New("timeout"))
	rejected := storage.Rejected(storage.SchemeRemote, "put", errors.New("552"))

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("contract 1: %w", contract.ErrNotFound), http.StatusNotFound},
		{"unsupported", contract.ErrUnsupportedFormat, http.StatusBadRequest},
		{"invalid", contract.ErrInvalidArgument, http.StatusBadRequest},
		{"duplicate content", contract.ErrDuplicateContent, http.StatusConflict},
		{"duplicate number", contract.ErrDuplicateNumber, http.StatusConflict},
		{"extraction", fmt.Errorf("%w: %w", contract.ErrExtractionFailure, errors.New("tika 500")), http.StatusUnprocessableEntity},
		{"storage unreachable", fmt.Errorf("%w: %w", contract.ErrStorageFailure, unreachable), http.StatusServiceUnavailable},
		{"storage rejected", fmt.Errorf("%w: %w", contract.ErrStorageFailure, rejected), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := classify(tt.err)
			assert.Equal(t, tt.want, code)
			if code >= 500 {
				assert.NotContains(t, msg, "boom")
				assert.NotContains(t, msg, "timeout")
			}
		})
	}
}
