package contract

import "context"

// Store persists contract metadata, versions and derived content.
// Implementations return errors matching ErrNotFound, ErrDuplicateNumber and
// ErrDuplicateContent so callers can classify them with errors.Is.
type Store interface {
	// CreateContract inserts c and fills in its ID and timestamps.
	CreateContract(ctx context.Context, c *Contract) error
	GetContract(ctx context.Context, id int64) (*Contract, error)
	GetContractByNumber(ctx context.Context, number string) (*Contract, error)
	// UpdateContract overwrites the mutable fields of an existing contract.
	UpdateContract(ctx context.Context, c *Contract) error
	ListContracts(ctx context.Context, f ListFilter) ([]*Contract, error)

	// HashExists reports whether any version carries hashKey.
	HashExists(ctx context.Context, hashKey string) (bool, error)

	// InsertVersion atomically advances the contract's version counter,
	// writes v with the new number and writes content for it. Both rows
	// become visible together or not at all. v.ID, v.Number and
	// content.VersionID are set on success. A hash key collision yields
	// ErrDuplicateContent.
	InsertVersion(ctx context.Context, v *Version, content *Content) error

	GetVersion(ctx context.Context, contractID int64, number int) (*Version, error)
	GetLatestVersion(ctx context.Context, contractID int64) (*Version, error)
	// ListVersions returns the versions of a contract in number order.
	ListVersions(ctx context.Context, contractID int64) ([]*Version, error)
	GetContent(ctx context.Context, contractID, versionID int64) (*Content, error)

	// DeleteContract removes the contract, its versions and their content in
	// one transaction and returns the versions that were removed.
	DeleteContract(ctx context.Context, id int64) ([]*Version, error)

	// LiveLocations returns the storage location of every version.
	LiveLocations(ctx context.Context) (map[string]struct{}, error)
}

// ObjectStore stores the raw bytes of versions. *storage.Router implements it.
type ObjectStore interface {
	Store(ctx context.Context, filename string, data []byte) (string, error)
	Retrieve(ctx context.Context, location string) ([]byte, error)
	Remove(ctx context.Context, location string) error
}
