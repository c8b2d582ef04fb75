package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updown/internal/domain"
)

// memBlob is an in-memory bucket.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBlob() *memBlob {
	return &memBlob{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type stubSigner struct{ err error }

func (s stubSigner) Sign(r domain.Round) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "0xsig-" + string(r.ID), nil
}

func settledReceipt() domain.SettlementReceipt {
	closePx := domain.Price(505_00000000)
	return domain.SettlementReceipt{
		Round: domain.Round{
			ID:         "2025-03-14",
			Status:     domain.RoundSettled,
			OpenPrice:  500_00000000,
			ClosePrice: &closePx,
			Outcome:    domain.OutcomeUp,
			TotalUp:    domain.Units(10),
			TotalDown:  domain.Units(10),
			Fee:        500_000,
		},
		Wagers: []domain.Wager{{ID: "w1", RoundID: "2025-03-14", Participant: "alice", Side: domain.SideUp,
			Amount: domain.Units(10), Result: domain.ResultWin, Payout: 19_500_000}},
	}
}

func TestReceiptArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	archive := NewReceiptArchive(blob, blob).WithSigner(stubSigner{}, "0xsettler")
	archive.now = func() time.Time { return time.Date(2025, 3, 14, 20, 31, 0, 0, time.UTC) }

	path, err := archive.ArchiveReceipt(ctx, settledReceipt())
	require.NoError(t, err)
	assert.Equal(t, "rounds/2025-03-14/settlement.json", path)
	assert.Equal(t, "application/json", blob.types[path])

	got, err := archive.LoadReceipt(ctx, "2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, "0xsig-2025-03-14", got.Signature)
	assert.Equal(t, "0xsettler", got.Signer)
	assert.Equal(t, domain.Amount(19_500_000), got.Wagers[0].Payout)
	assert.Equal(t, domain.Price(505_00000000), *got.Round.ClosePrice)
	assert.False(t, got.ArchivedAt.IsZero())

	_, err = archive.LoadReceipt(ctx, "2025-03-17")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReceiptArchiveSignFailureSkipsUpload(t *testing.T) {
	blob := newMemBlob()
	archive := NewReceiptArchive(blob, blob).WithSigner(stubSigner{err: errors.New("hsm offline")}, "0xsettler")

	_, err := archive.ArchiveReceipt(context.Background(), settledReceipt())
	assert.Error(t, err)
	assert.Empty(t, blob.objects)
}

func TestReceiptArchiveIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	archive := NewReceiptArchive(blob, blob)

	first := settledReceipt()
	_, err := archive.ArchiveReceipt(ctx, first)
	require.NoError(t, err)

	second := settledReceipt()
	second.Round.Fee = 1
	path, err := archive.ArchiveReceipt(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "rounds/2025-03-14/settlement.json", path)

	got, err := archive.LoadReceipt(ctx, "2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(500_000), got.Round.Fee, "the first receipt wins")
}

func TestListReceipts(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	archive := NewReceiptArchive(blob, blob)

	for _, id := range []domain.RoundID{"2025-03-17", "2025-03-14"} {
		r := settledReceipt()
		r.Round.ID = id
		_, err := archive.ArchiveReceipt(ctx, r)
		require.NoError(t, err)
	}
	require.NoError(t, blob.Put(ctx, "rounds/2025-03-14/notes.txt", strings.NewReader("x"), "text/plain"))

	infos, err := archive.ListReceipts(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "rounds/2025-03-14/settlement.json", infos[0].Path)
	assert.Equal(t, "rounds/2025-03-17/settlement.json", infos[1].Path)
	assert.Positive(t, infos[0].Size)

	empty, err := NewReceiptArchive(blob, nil).ListReceipts(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", withScheme("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "http://already", withScheme("http://already", true))
}
