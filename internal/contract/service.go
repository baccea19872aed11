package contract

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/logging"
)

// Remarks recorded on versions created implicitly.
const (
	RemarkInitialVersion = "initial version"
	RemarkUploaded       = "created from uploaded file"
)

// Service is the contract API used by the HTTP and CLI front ends.
type Service struct {
	store    Store
	objects  ObjectStore
	versions *VersionManager
	search   *SearchEngine
	deletion *DeletionCoordinator
}

// NewService wires the engine components around one store and object store.
func NewService(store Store, objects ObjectStore, versions *VersionManager) *Service {
	return &Service{
		store:    store,
		objects:  objects,
		versions: versions,
		search:   NewSearchEngine(store),
		deletion: NewDeletionCoordinator(store, objects),
	}
}

// Versions returns the version manager.
func (s *Service) Versions() *VersionManager { return s.versions }

// Search returns the search engine.
func (s *Service) Search() *SearchEngine { return s.search }

// Upload is a file sent by a client.
type Upload struct {
	FileName string
	MIMEType string
	Data     []byte
}

// CreateContractInput carries the fields of a new contract and an optional
// first file.
type CreateContractInput struct {
	Number     string     `json:"contract_number"`
	Name       string     `json:"contract_name"`
	PartyAID   int64      `json:"party_a_id"`
	PartyBID   int64      `json:"party_b_id"`
	Amount     float64    `json:"amount"`
	StartDate  *time.Time `json:"start_date"`
	EndDate    *time.Time `json:"end_date"`
	Category   string     `json:"category"`
	Department string     `json:"department"`
	Remark     string     `json:"remark"`
	Status     *Status    `json:"status"`
	CreatorID  string     `json:"-"`
	File       *Upload    `json:"-"`
}

// CreateContract stores a new contract. When a file is attached it becomes
// version 1; if that fails the contract is removed again.
func (s *Service) CreateContract(ctx context.Context, in CreateContractInput) (*Contract, error) {
	if strings.TrimSpace(in.Number) == "" || strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: contract number and name are required", ErrInvalidArgument)
	}
	if in.File != nil {
		if err := ValidateFileName(in.File.FileName); err != nil {
			return nil, err
		}
	}

	status := StatusDraft
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, fmt.Errorf("%w: status %d", ErrInvalidArgument, *in.Status)
		}
		status = *in.Status
	}

	c := &Contract{
		Number:     strings.TrimSpace(in.Number),
		Name:       strings.TrimSpace(in.Name),
		PartyAID:   in.PartyAID,
		PartyBID:   in.PartyBID,
		Amount:     in.Amount,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		Category:   in.Category,
		Department: in.Department,
		Remark:     in.Remark,
		Status:     status,
		CreatorID:  creatorOrSystem(ctx, in.CreatorID),
	}
	if err := s.store.CreateContract(ctx, c); err != nil {
		return nil, fmt.Errorf("create contract %s: %w", c.Number, err)
	}

	if in.File != nil {
		_, err := s.versions.CreateVersion(ctx, CreateVersionInput{
			ContractID: c.ID,
			Data:       in.File.Data,
			FileName:   in.File.FileName,
			MIMEType:   in.File.MIMEType,
			Remark:     RemarkInitialVersion,
			CreatorID:  c.CreatorID,
		})
		if err != nil {
			s.rollbackContract(ctx, c.ID)
			return nil, err
		}
	}

	logging.WithContext(ctx).Info("contract created",
		logging.ContractID(c.ID),
		zap.String("number", c.Number),
		zap.Bool("with_file", in.File != nil))
	return c, nil
}

// UploadContractFile creates a draft contract named after the file and
// attaches the file as its first version.
func (s *Service) UploadContractFile(ctx context.Context, up Upload, creatorID string) (*Contract, *Version, error) {
	if err := ValidateFileName(up.FileName); err != nil {
		return nil, nil, err
	}

	c := &Contract{
		Name:      fileStem(up.FileName),
		Status:    StatusDraft,
		CreatorID: creatorOrSystem(ctx, creatorID),
	}
	// Draft numbers are random; retry the rare collision.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		c.Number = draftNumber()
		if err = s.store.CreateContract(ctx, c); !errors.Is(err, ErrDuplicateNumber) {
			break
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create draft contract: %w", err)
	}

	v, err := s.versions.CreateVersion(ctx, CreateVersionInput{
		ContractID: c.ID,
		Data:       up.Data,
		FileName:   up.FileName,
		MIMEType:   up.MIMEType,
		Remark:     RemarkUploaded,
		CreatorID:  c.CreatorID,
	})
	if err != nil {
		s.rollbackContract(ctx, c.ID)
		return nil, nil, err
	}
	return c, v, nil
}

// BatchItem is one successful upload of a batch.
type BatchItem struct {
	Contract *Contract `json:"contract"`
	Version  *Version  `json:"version"`
}

// BatchFailure is one failed upload of a batch.
type BatchFailure struct {
	FileName string `json:"file_name"`
	Error    string `json:"error"`
	err      error
}

// BatchResult reports the outcome of every file in a batch.
type BatchResult struct {
	Succeeded []BatchItem    `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// BatchUpload runs UploadContractFile for each non-empty file. It fails only
// when every file failed; partial success returns both lists.
func (s *Service) BatchUpload(ctx context.Context, uploads []Upload, creatorID string) (*BatchResult, error) {
	res := &BatchResult{Succeeded: []BatchItem{}, Failed: []BatchFailure{}}
	for _, up := range uploads {
		if len(up.Data) == 0 {
			continue
		}
		c, v, err := s.UploadContractFile(ctx, up, creatorID)
		if err != nil {
			logging.WithContext(ctx).Warn("batch upload item failed",
				zap.String("file_name", up.FileName),
				zap.Error(err))
			res.Failed = append(res.Failed, BatchFailure{FileName: up.FileName, Error: err.Error(), err: err})
			continue
		}
		res.Succeeded = append(res.Succeeded, BatchItem{Contract: c, Version: v})
	}

	if len(res.Succeeded) == 0 && len(res.Failed) > 0 {
		errs := make([]error, 0, len(res.Failed))
		for _, f := range res.Failed {
			errs = append(errs, fmt.Errorf("%s: %w", f.FileName, f.err))
		}
		return res, fmt.Errorf("all %d uploads failed: %w", len(res.Failed), errors.Join(errs...))
	}
	return res, nil
}

// UpdateContractInput carries the editable contract fields. Nil fields are
// left unchanged.
type UpdateContractInput struct {
	Name       *string    `json:"contract_name"`
	PartyAID   *int64     `json:"party_a_id"`
	PartyBID   *int64     `json:"party_b_id"`
	Amount     *float64   `json:"amount"`
	StartDate  *time.Time `json:"start_date"`
	EndDate    *time.Time `json:"end_date"`
	Category   *string    `json:"category"`
	Department *string    `json:"department"`
	Remark     *string    `json:"remark"`
}

// UpdateContract edits the descriptive fields of a contract.
func (s *Service) UpdateContract(ctx context.Context, id int64, in UpdateContractInput) (*Contract, error) {
	c, err := s.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, fmt.Errorf("%w: contract name must not be empty", ErrInvalidArgument)
		}
		c.Name = strings.TrimSpace(*in.Name)
	}
	if in.PartyAID != nil {
		c.PartyAID = *in.PartyAID
	}
	if in.PartyBID != nil {
		c.PartyBID = *in.PartyBID
	}
	if in.Amount != nil {
		c.Amount = *in.Amount
	}
	if in.StartDate != nil {
		c.StartDate = in.StartDate
	}
	if in.EndDate != nil {
		c.EndDate = in.EndDate
	}
	if in.Category != nil {
		c.Category = *in.Category
	}
	if in.Department != nil {
		c.Department = *in.Department
	}
	if in.Remark != nil {
		c.Remark = *in.Remark
	}

	if err := s.store.UpdateContract(ctx, c); err != nil {
		return nil, fmt.Errorf("update contract %d: %w", id, err)
	}
	return c, nil
}

// UpdateStatus moves a contract to a new review state.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status Status) (*Contract, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidArgument, status)
	}
	c, err := s.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Status = status
	if err := s.store.UpdateContract(ctx, c); err != nil {
		return nil, fmt.Errorf("update contract %d status: %w", id, err)
	}
	return c, nil
}

// GetContract returns a contract by ID.
func (s *Service) GetContract(ctx context.Context, id int64) (*Contract, error) {
	c, err := s.store.GetContract(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("contract %d: %w", id, err)
	}
	return c, nil
}

// GetContractByNumber returns a contract by its unique number.
func (s *Service) GetContractByNumber(ctx context.Context, number string) (*Contract, error) {
	c, err := s.store.GetContractByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("contract %q: %w", number, err)
	}
	return c, nil
}

// ListContracts returns contracts matching f, newest first.
func (s *Service) ListContracts(ctx context.Context, f ListFilter) ([]*Contract, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidArgument, *f.Status)
	}
	return s.store.ListContracts(ctx, f)
}

// DeleteContract removes a contract and everything it owns.
func (s *Service) DeleteContract(ctx context.Context, id int64) (*DeleteResult, error) {
	return s.deletion.DeleteContract(ctx, id)
}

// Comparison holds two versions side by side.
type Comparison struct {
	Version1 *Version `json:"version1"`
	Version2 *Version `json:"version2"`
	Content1 string   `json:"content1"`
	Content2 string   `json:"content2"`
	Diff     string   `json:"diff"`
}

// DiffNotImplemented is the placeholder returned in Comparison.Diff.
const DiffNotImplemented = "version diff is not implemented"

// CompareVersions returns the plain text of two versions. No diff is
// computed.
func (s *Service) CompareVersions(ctx context.Context, contractID int64, n1, n2 int) (*Comparison, error) {
	v1, c1, err := s.versionContent(ctx, contractID, n1)
	if err != nil {
		return nil, err
	}
	v2, c2, err := s.versionContent(ctx, contractID, n2)
	if err != nil {
		return nil, err
	}
	return &Comparison{
		Version1: v1,
		Version2: v2,
		Content1: c1.PlainText,
		Content2: c2.PlainText,
		Diff:     DiffNotImplemented,
	}, nil
}

// Content kinds accepted by GetContent.
const (
	KindPlain = "plain"
	KindHTML  = "html"
	KindRaw   = "raw"
)

// GetContent returns one rendering of a version's content. Version 0 means
// the latest.
func (s *Service) GetContent(ctx context.Context, contractID int64, number int, kind string) (string, error) {
	_, c, err := s.versionContent(ctx, contractID, number)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(kind) {
	case "", KindPlain:
		return c.PlainText, nil
	case KindHTML:
		return c.HTML, nil
	case KindRaw:
		return c.Raw, nil
	}
	return "", fmt.Errorf("%w: content kind %q", ErrInvalidArgument, kind)
}

// Export formats.
const (
	FormatTXT      = "txt"
	FormatHTML     = "html"
	FormatOriginal = "original"
)

// Export is a rendered version ready to send to a client.
type Export struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Export renders a version: txt is the plain text, html the HTML rendering,
// original the stored file bytes and any other format the raw content.
// Version 0 means the latest.
func (s *Service) Export(ctx context.Context, contractID int64, number int, format string) (*Export, error) {
	v, c, err := s.versionContent(ctx, contractID, number)
	if err != nil {
		return nil, err
	}

	stem := fileStem(v.FileName)
	switch strings.ToLower(format) {
	case FormatTXT:
		return &Export{FileName: stem + ".txt", ContentType: "text/plain; charset=utf-8", Data: []byte(c.PlainText)}, nil
	case FormatHTML:
		return &Export{FileName: stem + ".html", ContentType: "text/html; charset=utf-8", Data: []byte(c.HTML)}, nil
	case FormatOriginal:
		data, err := s.objects.Retrieve(ctx, v.Location)
		if err != nil {
			return nil, fmt.Errorf("%w: retrieve %s: %w", ErrStorageFailure, v.Location, err)
		}
		return &Export{FileName: v.FileName, ContentType: v.MIMEType, Data: data}, nil
	}
	return &Export{FileName: stem + ".txt", ContentType: "text/plain; charset=utf-8", Data: []byte(c.Raw)}, nil
}

// SearchWithinContract delegates to the search engine.
func (s *Service) SearchWithinContract(ctx context.Context, contractID int64, keyword string) ([]Match, error) {
	return s.search.SearchWithinContract(ctx, contractID, keyword)
}

// SearchAllContracts delegates to the search engine.
func (s *Service) SearchAllContracts(ctx context.Context, keyword string) ([]ContractMatch, error) {
	return s.search.SearchAllContracts(ctx, keyword)
}

func (s *Service) versionContent(ctx context.Context, contractID int64, number int) (*Version, *Content, error) {
	v, err := s.versions.resolve(ctx, contractID, number)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.store.GetContent(ctx, contractID, v.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("contract %d version %d content: %w", contractID, v.Number, err)
	}
	return v, c, nil
}

// rollbackContract removes a contract whose first version could not be
// created. It has no versions, so no bytes need removing.
func (s *Service) rollbackContract(ctx context.Context, id int64) {
	if _, err := s.store.DeleteContract(ctx, id); err != nil {
		logging.WithContext(ctx).Error("rollback contract failed",
			logging.ContractID(id),
			zap.Error(err))
	}
}

func creatorOrSystem(ctx context.Context, creatorID string) string {
	if creatorID != "" {
		return creatorID
	}
	logging.WithContext(ctx).Warn("no creator on request, recording system user",
		zap.String("creator_id", SystemCreator))
	return SystemCreator
}

func draftNumber() string {
	return fmt.Sprintf("DRAFT-%d-%03d", time.Now().UnixMilli(), rand.IntN(1000))
}

func fileStem(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" {
		return stem
	}
	return base
}
