package contract_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractvault/contractvault/internal/config"
	"github.com/contractvault/contractvault/internal/contract"
)

func TestCreateContract(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, config.HashScopeGlobal)

	c, err := e.svc.CreateContract(ctx, contract.CreateContractInput{
		Number:   "HT-2024-001",
		Name:     "Office lease",
		PartyAID: 7,
		PartyBID: 9,
		Amount:   12000.5,
		File:     &contract.Upload{FileName: "lease.pdf", Data: []byte("lease text")},
	})
	require.NoError(t, err)
	assert.Equal(t, contract.StatusDraft, c.Status)
	assert.Equal(t, contract.SystemCreator, c.CreatorID)
	assert.False(t, c.CreatedAt.IsZero())

	v, err := e.svc.Versions().GetLatestVersion(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Number)
	assert.Equal(t, contract.RemarkInitialVersion, v.Remark)

	byNumber, err := e.svc.GetContractByNumber(ctx, "HT-2024-001")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byNumber.ID)

	_, err = e.svc.CreateContract(ctx, contract.CreateContractInput{Number: "HT-2024-001", Name: "again"})
	assert.ErrorIs(t, err, contract.ErrDuplicateNumber)
}

func TestCreateContractValidation(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, config.HashScopeGlobal)

	_, err := e.svc.CreateContract(ctx, contract.CreateContractInput{Number: "", Name: "x"})
	assert.ErrorIs(t, err, contract.ErrInvalidArgument)

	bad := contract.Status(9)
	_, err = e.svc.CreateContract(ctx, contract.CreateContractInput{Number: "N", Name: "x", Status: &bad})
	assert.ErrorIs(t, err, contract.ErrInvalidArgument)

	_, err = e.svc.CreateContract(ctx, contract.CreateContractInput{
		Number: "N",
		Name:   "x",
		File:   &contract.Upload{FileName: "sheet.xlsx", Data: []byte("x")},
	})
	assert.ErrorIs(t, err, contract.ErrUnsupportedFormat)
	_, err = e.svc.GetContractByNumber(ctx, "N")
	assert.ErrorIs(t, err, contract.ErrNotFound, "rejected upload must not leave a contract")
}

func TestCreateContractRollsBackOnDuplicateFile(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, config.HashScopeGlobal)
	first := e.newContract(t, "C-1")
	e.addVersion(t, first.ID, "same")

	_, err := e.svc.CreateContract(ctx, contract.CreateContractInput{
		Number: "C-2",
		Name:   "dup",
		File:   &contract.Upload{FileName: "same.pdf", Data: []byte("same")},
	})
	assert.ErrorIs(t, err, contract.ErrDuplicateContent)

	_, err = e.svc.GetContractByNumber(ctx, "C-2")
	assert.ErrorIs(t, err, contract.ErrNotFound)
}

func TestUploadContractFile(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, config.HashScopeGlobal)

	c, v, err := e.svc.UploadContractFile(ctx, contract.Upload{
		FileName: "Supply Agreement.v2.docx",
		Data:     []byte("supply"),
	}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Supply Agreement.v2", c.Name)
	assert.True(t, strings.HasPrefix(c.Number, "DRAFT-"), c.Number)
	assert.Equal(t, contract.StatusDraft, c.Status)
	assert.Equal(t, "bob", c.CreatorID)
	assert.Equal(t, 1, v.Number)
	assert.Equal(t, contract.RemarkUploaded, v.Remark)

	_, _, err = e.svc.UploadContractFile(ctx, contract.Upload{FileName: "x.txt", Data: []byte("x")}, "bob")
	assert.ErrorIs(t, err, contract.ErrUnsupportedFormat)
}

func TestBatchUpload(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, config.HashScopeGlobal)

	res, err := e.svc.BatchUpload(ctx, []contract.Upload{
		{FileName: "a.pdf", Data: []byte("a")},
		{FileName: "b.xlsx", Data: []byte("b")},
		{FileName: "empty.pdf"},
		{FileName: "c.docx", Data: []byte("c")},
	}, "")
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "b.xlsx", res.Failed[0].FileName)

	res, err = e.svc.BatchUpload(ctx, []contract.Upload{
		{FileName: "a2.pdf", Data: []byte("a")},
		{FileName: "d.exe", Data: []byte("d")},
	}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrDuplicateContent)
	assert.ErrorIs(t, err, contract.ErrUnsupportedFormat)
	assert.Empty(t, res.Succeeded)
	assert.Len(t, res.Failed, 2)
}

func TestUpdateContractAndStatus(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, config.HashScopeGlobal)
	c := e.newContract(t, "C-1")

	name := "Renamed"
	dept := "Legal"
	updated, err := e.svc.UpdateContract(ctx, c.ID, contract.UpdateContractInput{Name: &name, Department: &dept})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "Legal", updated.Department)
	assert.Equal(t, "C-1", updated.Number)

	empty := " "
	_, err = e.svc.UpdateContract(ctx, c.ID, contract.UpdateContractInput{Name: &empty})
	assert.ErrorIs(t, err, contract.ErrInvalidArgument)

	approved, err := e.svc.UpdateStatus(ctx, c.ID, contract.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusApproved, approved.Status)

	_, err = e.svc.UpdateStatus(ctx, c.ID, contract.Status(-1))
	assert.ErrorIs(t, err, contract.ErrInvalidArgument)

	_, err = e.svc.UpdateStatus(ctx, 999, contract.StatusPending)
	assert.ErrorIs(t, err, contract.ErrNotFound)
}

func TestListContractsFilters(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, config.HashScopeGlobal)

	pending := contract.StatusPending
	mk := func(number, name, category string, partyA int64, status *contract.Status) {
		_, err := e.svc.CreateContract(ctx, contract.CreateContractInput{
			Number: number, Name: name, Category: category, PartyAID: partyA, Status: status, CreatorID: "carol",
		})
		require.NoError(t, err)
	}
	mk("S-1", "Supply deal", "supply", 1, nil)
	mk("S-2", "Service deal", "service", 2, &pending)
	mk("L-1", "Lease", "lease", 1, &pending)

	all, err := e.svc.ListContracts(ctx, contract.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "L-1", all[0].Number, "newest first")

	byKeyword, err := e.svc.ListContracts(ctx, contract.ListFilter{Keyword: "S-"})
	require.NoError(t, err)
	assert.Len(t, byKeyword, 2)

	byStatus, err := e.svc.ListContracts(ctx, contract.ListFilter{Status: &pending})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	byParty, err := e.svc.ListContracts(ctx, contract.ListFilter{PartyID: 1, Category: "lease"})
	require.NoError(t, err)
	require.Len(t, byParty, 1)
	assert.Equal(t, "L-1", byParty[0].Number)

	paged, err := e.svc.ListContracts(ctx, contract.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "S-2", paged[0].Number)
}

func TestCompareVersionsAndContent(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, config.HashScopeGlobal)
	c := e.newContract(t, "C-1")
	e.addVersion(t, c.ID, "first text")
	e.addVersion(t, c.ID, "second text")

	cmp, err := e.svc.CompareVersions(ctx, c.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "first text", cmp.Content1)
	assert.Equal(t, "second text", cmp.Content2)
	assert.Equal(t, 1, cmp.Version1.Number)
	assert.Equal(t, 2, cmp.Version2.Number)
	assert.Equal(t, contract.DiffNotImplemented, cmp.Diff)

	_, err = e.svc.CompareVersions(ctx, c.ID, 1, 3)
	assert.ErrorIs(t, err, contract.ErrNotFound)

	latest, err := e.svc.GetContent(ctx, c.ID, 0, contract.KindPlain)
	require.NoError(t, err)
	assert.Equal(t, "second text", latest)

	raw, err := e.svc.GetContent(ctx, c.ID, 1, contract.KindRaw)
	require.NoError(t, err)
	assert.Equal(t, "first text", raw)

	_, err = e.svc.GetContent(ctx, c.ID, 1, "pdf")
	assert.ErrorIs(t, err, contract.ErrInvalidArgument)
}
