// Package contract implements the contract version engine: version creation
// with content deduplication, keyword search over extracted text, cascading
// deletion and the contract service built on top of them.
package contract

import "time"

// Status is the review state of a contract.
type Status int

const (
	StatusDraft    Status = 0
	StatusPending  Status = 1
	StatusApproved Status = 2
	StatusRejected Status = 3
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s >= StatusDraft && s <= StatusRejected
}

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	}
	return "unknown"
}

// SystemCreator is recorded when a request carries no creator.
const SystemCreator = "system_auto"

// Contract is the aggregate root. It owns its versions.
type Contract struct {
	ID         int64      `json:"id"`
	Number     string     `json:"contract_number"`
	Name       string     `json:"contract_name"`
	PartyAID   int64      `json:"party_a_id"`
	PartyBID   int64      `json:"party_b_id"`
	Amount     float64    `json:"amount"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	Category   string     `json:"category,omitempty"`
	Department string     `json:"department,omitempty"`
	Remark     string     `json:"remark,omitempty"`
	Status     Status     `json:"status"`
	CreatorID  string     `json:"creator_id"`
	CreatedAt  time.Time  `json:"create_time"`
	UpdatedAt  time.Time  `json:"update_time"`

	// VersionSeq is the last version number handed out for this contract.
	VersionSeq int `json:"-"`
}

// Version is one immutable snapshot of an uploaded contract file.
type Version struct {
	ID          int64     `json:"id"`
	ContractID  int64     `json:"contract_id"`
	Number      int       `json:"version_number"`
	ContentHash string    `json:"content_hash"`
	Location    string    `json:"storage_path"`
	FileName    string    `json:"file_name"`
	MIMEType    string    `json:"file_type"`
	Size        int64     `json:"file_size"`
	CreatorID   string    `json:"creator_id"`
	Remark      string    `json:"remark,omitempty"`
	CreatedAt   time.Time `json:"create_time"`

	// HashKey is the value the store keeps unique: the hash itself, or the
	// hash qualified by contract ID under the per-contract scope.
	HashKey string `json:"-"`
}

// Content holds the text derived from a version.
type Content struct {
	ContractID int64     `json:"contract_id"`
	VersionID  int64     `json:"version_id"`
	PlainText  string    `json:"plain_text_content"`
	HTML       string    `json:"html_content"`
	Raw        string    `json:"content"`
	CreatorID  string    `json:"creator_id"`
	CreatedAt  time.Time `json:"create_time"`
	UpdatedAt  time.Time `json:"update_time"`
}

// ListFilter narrows ListContracts. Zero values match everything.
type ListFilter struct {
	Keyword    string // substring of name or number
	Status     *Status
	CreatorID  string
	PartyID    int64 // party A or party B
	Category   string
	Department string
	Limit      int
	Offset     int
}
