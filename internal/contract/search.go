package contract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/logging"
)

const (
	// contextRadius is the number of runes shown either side of a match
	// inside one contract.
	contextRadius = 100

	// globalContextRadius is the radius used by the cross-contract search.
	globalContextRadius = 50

	markOpen  = "<mark>"
	markClose = "</mark>"
)

// Match is one keyword occurrence inside a contract's latest text.
type Match struct {
	Keyword       string `json:"keyword"`
	Position      int    `json:"position"` // rune offset into the plain text
	Context       string `json:"context"`
	VersionNumber int    `json:"version"`
}

// ContractMatch is one contract whose latest text contains the keyword.
type ContractMatch struct {
	ContractID     int64  `json:"contract_id"`
	ContractName   string `json:"contract_name"`
	ContractNumber string `json:"contract_number"`
	Context        string `json:"context"`
}

// SearchEngine scans stored plain text linearly.
type SearchEngine struct {
	store Store
}

// NewSearchEngine creates a SearchEngine.
func NewSearchEngine(store Store) *SearchEngine {
	return &SearchEngine{store: store}
}

// SearchWithinContract reports every non-overlapping, case-insensitive
// occurrence of keyword in the latest version of a contract, left to right.
func (e *SearchEngine) SearchWithinContract(ctx context.Context, contractID int64, keyword string) ([]Match, error) {
	if keyword == "" {
		return nil, fmt.Errorf("%w: keyword is required", ErrInvalidArgument)
	}

	v, err := e.store.GetLatestVersion(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("contract %d latest version: %w", contractID, err)
	}
	content, err := e.store.GetContent(ctx, contractID, v.ID)
	if err != nil {
		return nil, fmt.Errorf("contract %d version %d content: %w", contractID, v.Number, err)
	}

	text := []rune(content.PlainText)
	folded := foldRunes(text)
	key := foldRunes([]rune(keyword))

	matches := []Match{}
	for _, pos := range indexAll(folded, key) {
		start := max(0, pos-contextRadius)
		end := min(len(text), pos+len(key)+contextRadius)
		matches = append(matches, Match{
			Keyword:       keyword,
			Position:      pos,
			Context:       highlight(text[start:end], folded[start:end], key),
			VersionNumber: v.Number,
		})
	}
	return matches, nil
}

// SearchAllContracts returns one entry per contract whose latest text
// contains keyword, matched case-sensitively. A contract that cannot be read
// is logged and skipped.
func (e *SearchEngine) SearchAllContracts(ctx context.Context, keyword string) ([]ContractMatch, error) {
	if keyword == "" {
		return nil, fmt.Errorf("%w: keyword is required", ErrInvalidArgument)
	}

	contracts, err := e.store.ListContracts(ctx, ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}

	results := []ContractMatch{}
	for _, c := range contracts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := e.latestText(ctx, c.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			logging.WithContext(ctx).Error("search contract content failed",
				logging.ContractID(c.ID),
				zap.Error(err))
			continue
		}

		idx := strings.Index(text, keyword)
		if idx < 0 {
			continue
		}
		runes := []rune(text)
		pos := len([]rune(text[:idx]))
		start := max(0, pos-globalContextRadius)
		end := min(len(runes), pos+len([]rune(keyword))+globalContextRadius)

		results = append(results, ContractMatch{
			ContractID:     c.ID,
			ContractName:   c.Name,
			ContractNumber: c.Number,
			Context:        string(runes[start:end]),
		})
	}
	return results, nil
}

func (e *SearchEngine) latestText(ctx context.Context, contractID int64) (string, error) {
	v, err := e.store.GetLatestVersion(ctx, contractID)
	if err != nil {
		return "", err
	}
	content, err := e.store.GetContent(ctx, contractID, v.ID)
	if err != nil {
		return "", err
	}
	return content.PlainText, nil
}

// foldRunes lower-cases rune by rune so offsets stay aligned with the input.
func foldRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

// indexAll returns the start of every non-overlapping occurrence of key.
func indexAll(text, key []rune) []int {
	var out []int
	if len(key) == 0 {
		return out
	}
	for i := 0; i+len(key) <= len(text); {
		if slices.Equal(text[i:i+len(key)], key) {
			out = append(out, i)
			i += len(key)
			continue
		}
		i++
	}
	return out
}

// highlight wraps each occurrence of key in window with mark tags, keeping
// the original casing of window.
func highlight(window, folded, key []rune) string {
	var sb strings.Builder
	last := 0
	for _, pos := range indexAll(folded, key) {
		sb.WriteString(string(window[last:pos]))
		sb.WriteString(markOpen)
		sb.WriteString(string(window[pos : pos+len(key)]))
		sb.WriteString(markClose)
		last = pos + len(key)
	}
	sb.WriteString(string(window[last:]))
	return sb.String()
}
