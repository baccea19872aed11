package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/contractvault/contractvault/internal/auth"
	"github.com/contractvault/contractvault/internal/contract"
)

// errTooLarge is returned by the upload readers when a body exceeds the
// configured limit.
var errTooLarge = errors.New("upload too large")

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid contract id %q", contract.ErrInvalidArgument, chi.URLParam(r, "id"))
	}
	return id, nil
}

// queryVersion parses an optional version query parameter; 0 selects the
// latest version.
func queryVersion(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid version %q", contract.ErrInvalidArgument, v)
	}
	return n, nil
}

func creator(r *http.Request) string {
	if claims := auth.GetClaims(r.Context()); claims != nil {
		return claims.UserID()
	}
	return strings.TrimSpace(r.Header.Get(CreatorHeader))
}

// parseMultipart parses a multipart body bounded by the upload limit.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	if r.ContentLength > s.maxUploadSize {
		return errTooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errTooLarge
		}
		return fmt.Errorf("%w: parse multipart form: %v", contract.ErrInvalidArgument, err)
	}
	return nil
}

func readUpload(fh *multipart.FileHeader) (contract.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return contract.Upload{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return contract.Upload{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	// Generic types are dropped so the file extension decides.
	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}
	return contract.Upload{
		FileName: fh.Filename,
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

// formFile reads a single named file field. ok is false when the field is
// absent.
func formFile(r *http.Request, field string) (up contract.Upload, ok bool, err error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return contract.Upload{}, false, nil
	}
	up, err = readUpload(r.MultipartForm.File[field][0])
	return up, err == nil, err
}

func (s *Server) sendUploadError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errTooLarge) {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large: max %d bytes", s.maxUploadSize))
		return
	}
	s.sendServiceError(w, r, err)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// handleCreateContract accepts either a JSON body or a multipart form whose
// "contract" field holds the JSON and whose optional "file" field holds the
// initial version.
func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var in contract.CreateContractInput

	if isMultipart(r) {
		if err := s.parseMultipart(w, r); err != nil {
			s.sendUploadError(w, r, err)
			return
		}
		if err := json.Unmarshal([]byte(r.FormValue("contract")), &in); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid contract field: "+err.Error())
			return
		}
		up, ok, err := formFile(r, "file")
		if err != nil {
			s.sendServiceError(w, r, err)
			return
		}
		if ok {
			in.File = &up
		}
	} else {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	in.CreatorID = creator(r)

	c, err := s.service.CreateContract(r.Context(), in)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, c)
}

func (s *Server) handleUploadContract(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.sendUploadError(w, r, err)
		return
	}
	up, ok, err := formFile(r, "file")
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if !ok {
		s.sendError(w, http.StatusBadRequest, "file field required")
		return
	}

	c, v, err := s.service.UploadContractFile(r.Context(), up, creator(r))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, contract.BatchItem{Contract: c, Version: v})
}

func (s *Server) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.sendUploadError(w, r, err)
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.sendError(w, http.StatusBadRequest, "files field required")
		return
	}

	uploads := make([]contract.Upload, 0, len(headers))
	for _, fh := range headers {
		up, err := readUpload(fh)
		if err != nil {
			s.sendServiceError(w, r, err)
			return
		}
		uploads = append(uploads, up)
	}

	result, err := s.service.BatchUpload(r.Context(), uploads, creator(r))
	if err != nil {
		// Every file failed; the per-file reasons are still useful.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(Response{
			Code:      http.StatusBadRequest,
			Message:   "all uploads failed",
			Data:      result,
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	c, err := s.service.GetContract(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetContractByNumber(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.GetContractByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := contract.ListFilter{
		Keyword:    q.Get("keyword"),
		CreatorID:  q.Get("creator"),
		Category:   q.Get("category"),
		Department: q.Get("department"),
	}
	if v := q.Get("status"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid status")
			return
		}
		st := contract.Status(n)
		f.Status = &st
	}
	if v := q.Get("party"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid party")
			return
		}
		f.PartyID = n
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	list, err := s.service.ListContracts(r.Context(), f)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*contract.Contract{}
	}
	s.sendJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpdateContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	var in contract.UpdateContractInput
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c, err := s.service.UpdateContract(r.Context(), id, in)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	var req struct {
		Status *contract.Status `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil || req.Status == nil {
		s.sendError(w, http.StatusBadRequest, "status required")
		return
	}
	c, err := s.service.UpdateStatus(r.Context(), id, *req.Status)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	result, err := s.service.DeleteContract(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if err := s.parseMultipart(w, r); err != nil {
		s.sendUploadError(w, r, err)
		return
	}
	up, ok, err := formFile(r, "file")
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if !ok {
		s.sendError(w, http.StatusBadRequest, "file field required")
		return
	}

	v, err := s.service.Versions().CreateVersion(r.Context(), contract.CreateVersionInput{
		ContractID: id,
		Data:       up.Data,
		FileName:   up.FileName,
		MIMEType:   up.MIMEType,
		Remark:     r.FormValue("remark"),
		CreatorID:  creator(r),
	})
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, v)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	versions, err := s.service.Versions().ListVersions(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if versions == nil {
		versions = []*contract.Version{}
	}
	s.sendJSON(w, http.StatusOK, versions)
}

func (s *Server) handleLatestVersion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	v, err := s.service.Versions().GetLatestVersion(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, v)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || n <= 0 {
		s.sendError(w, http.StatusBadRequest, "invalid version number")
		return
	}
	v, err := s.service.Versions().GetVersion(r.Context(), id, n)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, v)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	v1, err := queryVersion(r, "v1")
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	v2, err := queryVersion(r, "v2")
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if v1 == 0 || v2 == 0 {
		s.sendError(w, http.StatusBadRequest, "v1 and v2 are required")
		return
	}
	cmp, err := s.service.CompareVersions(r.Context(), id, v1, v2)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	n, err := queryVersion(r, "version")
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "plain"
	}
	text, err := s.service.GetContent(r.Context(), id, n, kind)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"kind": kind, "content": text})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	n, err := queryVersion(r, "version")
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = contract.FormatTXT
	}

	exp, err := s.service.Export(r.Context(), id, n, format)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", exp.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": exp.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(exp.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(exp.Data)
}

func (s *Server) handleSearchContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	matches, err := s.service.SearchWithinContract(r.Context(), id, r.URL.Query().Get("keyword"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if matches == nil {
		matches = []contract.Match{}
	}
	s.sendJSON(w, http.StatusOK, matches)
}

func (s *Server) handleSearchAll(w http.ResponseWriter, r *http.Request) {
	matches, err := s.service.SearchAllContracts(r.Context(), r.URL.Query().Get("keyword"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if matches == nil {
		matches = []contract.ContractMatch{}
	}
	s.sendJSON(w, http.StatusOK, matches)
}
