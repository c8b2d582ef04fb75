package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SettlementReceipt is the durable record of a completed sweep. Signature,
// when present, is the settler's EIP-712 signature over the round.
type SettlementReceipt struct {
	Round      Round     `json:"round"`
	Wagers     []Wager   `json:"wagers"`
	Bankrupt   int64     `json:"bankrupt_resets"`
	ArchivedAt time.Time `json:"archived_at"`
	Signer     string    `json:"signer,omitempty"`
	Signature  string    `json:"signature,omitempty"`
}

// ReceiptArchiver stores settlement receipts in cold storage.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, receipt SettlementReceipt) (string, error)
}

// ReceiptReader loads previously archived receipts.
type ReceiptReader interface {
	LoadReceipt(ctx context.Context, id RoundID) (SettlementReceipt, error)
	ListReceipts(ctx context.Context) ([]BlobInfo, error)
}
