package contract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/config"
	"github.com/contractvault/contractvault/internal/extract"
	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/metrics"
)

// allowedExtensions are the upload formats accepted for new versions.
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
}

// ValidateFileName checks the extension of an upload, case-insensitively.
func ValidateFileName(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %q (only .pdf and .docx are accepted)", ErrUnsupportedFormat, filename)
	}
	return nil
}

// VersionConfig holds the versioning policy.
type VersionConfig struct {
	HashAlgorithm string
	// HashScope is config.HashScopeGlobal or config.HashScopeContract.
	HashScope string
	// CleanupOnExtractFailure removes stored bytes when extraction fails.
	// When false the orphan is left for the sweep.
	CleanupOnExtractFailure bool
}

// VersionManager creates and reads contract versions.
type VersionManager struct {
	store     Store
	objects   ObjectStore
	extractor extract.Extractor
	hash      Hasher
	cfg       VersionConfig
}

// NewVersionManager creates a VersionManager.
func NewVersionManager(store Store, objects ObjectStore, extractor extract.Extractor, cfg VersionConfig) (*VersionManager, error) {
	hash, err := NewHasher(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	switch cfg.HashScope {
	case "":
		cfg.HashScope = config.HashScopeGlobal
	case config.HashScopeGlobal, config.HashScopeContract:
	default:
		return nil, fmt.Errorf("%w: unknown hash scope %q", ErrInvalidArgument, cfg.HashScope)
	}
	return &VersionManager{
		store:     store,
		objects:   objects,
		extractor: extractor,
		hash:      hash,
		cfg:       cfg,
	}, nil
}

// CreateVersionInput is an uploaded file to attach to a contract.
type CreateVersionInput struct {
	ContractID int64
	Data       []byte
	FileName   string
	MIMEType   string
	Remark     string
	CreatorID  string
}

// CreateVersion validates, deduplicates, stores and extracts an upload and
// records it as the contract's next version.
func (m *VersionManager) CreateVersion(ctx context.Context, in CreateVersionInput) (*Version, error) {
	v, err := m.createVersion(ctx, in)
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateContent):
		result = "duplicate"
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrNotFound):
		result = "rejected"
	default:
		result = "error"
	}
	metrics.RecordVersionCreate(result)
	return v, err
}

func (m *VersionManager) createVersion(ctx context.Context, in CreateVersionInput) (*Version, error) {
	log := logging.WithContext(ctx)

	if err := ValidateFileName(in.FileName); err != nil {
		return nil, err
	}

	if _, err := m.store.GetContract(ctx, in.ContractID); err != nil {
		return nil, fmt.Errorf("contract %d: %w", in.ContractID, err)
	}

	hash := m.hash(in.Data)
	hashKey := m.hashKey(in.ContractID, hash)
	exists, err := m.store.HashExists(ctx, hashKey)
	if err != nil {
		return nil, fmt.Errorf("check content hash: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: hash %s", ErrDuplicateContent, hash)
	}

	location, err := m.objects.Store(ctx, in.FileName, in.Data)
	if err != nil {
		log.Error("store version bytes failed",
			logging.ContractID(in.ContractID),
			zap.String("file_name", in.FileName),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	text, err := m.extractor.Extract(ctx, in.Data, in.FileName)
	if err != nil {
		log.Error("extract text failed",
			logging.ContractID(in.ContractID),
			logging.Location(location),
			zap.Error(err))
		if m.cfg.CleanupOnExtractFailure {
			m.discard(ctx, location)
		}
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailure, err)
	}

	creator := in.CreatorID
	if creator == "" {
		creator = SystemCreator
	}
	mimeType := in.MIMEType
	if mimeType == "" {
		mimeType = mimeTypeFor(in.FileName)
	}

	now := time.Now().UTC()
	v := &Version{
		ContractID:  in.ContractID,
		ContentHash: hash,
		HashKey:     hashKey,
		Location:    location,
		FileName:    in.FileName,
		MIMEType:    mimeType,
		Size:        int64(len(in.Data)),
		CreatorID:   creator,
		Remark:      in.Remark,
		CreatedAt:   now,
	}
	content := &Content{
		ContractID: in.ContractID,
		PlainText:  text,
		HTML:       extract.ToHTML(text),
		Raw:        text,
		CreatorID:  creator,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := m.store.InsertVersion(ctx, v, content); err != nil {
		// The metadata never committed, so the bytes are unreferenced.
		m.discard(ctx, location)
		return nil, fmt.Errorf("record version: %w", err)
	}

	log.Info("version created",
		logging.ContractID(v.ContractID),
		logging.VersionNumber(v.Number),
		zap.String("hash", v.ContentHash),
		logging.Location(v.Location),
		zap.Int64("size", v.Size))
	return v, nil
}

// discard removes bytes whose version was never recorded. Failure leaves an
// orphan for the sweep.
func (m *VersionManager) discard(ctx context.Context, location string) {
	if err := m.objects.Remove(ctx, location); err != nil {
		metrics.RecordCleanupFailure()
		logging.WithContext(ctx).Warn("discard unreferenced bytes failed",
			logging.Location(location),
			zap.Error(fmt.Errorf("%w: %v", ErrStorageCleanupFailure, err)))
	}
}

func (m *VersionManager) hashKey(contractID int64, hash string) string {
	if m.cfg.HashScope == config.HashScopeContract {
		return fmt.Sprintf("%d:%s", contractID, hash)
	}
	return hash
}

// GetVersion returns version number of a contract.
func (m *VersionManager) GetVersion(ctx context.Context, contractID int64, number int) (*Version, error) {
	v, err := m.store.GetVersion(ctx, contractID, number)
	if err != nil {
		return nil, fmt.Errorf("contract %d version %d: %w", contractID, number, err)
	}
	return v, nil
}

// GetLatestVersion returns the highest-numbered version of a contract.
func (m *VersionManager) GetLatestVersion(ctx context.Context, contractID int64) (*Version, error) {
	v, err := m.store.GetLatestVersion(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("contract %d latest version: %w", contractID, err)
	}
	return v, nil
}

// ListVersions returns every version of a contract, oldest first.
func (m *VersionManager) ListVersions(ctx context.Context, contractID int64) ([]*Version, error) {
	if _, err := m.store.GetContract(ctx, contractID); err != nil {
		return nil, fmt.Errorf("contract %d: %w", contractID, err)
	}
	return m.store.ListVersions(ctx, contractID)
}

// resolve returns the given version, or the latest when number is 0.
func (m *VersionManager) resolve(ctx context.Context, contractID int64, number int) (*Version, error) {
	if number > 0 {
		return m.GetVersion(ctx, contractID, number)
	}
	return m.GetLatestVersion(ctx, contractID)
}

func mimeTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/octet-stream"
}
