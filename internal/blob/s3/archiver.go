package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/updown/internal/domain"
)

// RoundSigner signs a settled round; satisfied by crypto.ReceiptSigner.
type RoundSigner interface {
	Sign(r domain.Round) (string, error)
}

// ReceiptArchive writes one JSON document per settled round to
// rounds/{id}/settlement.json and reads it back.
type ReceiptArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	signer RoundSigner
	signBy string
	now    func() time.Time
}

var (
	_ domain.ReceiptArchiver = (*ReceiptArchive)(nil)
	_ domain.ReceiptReader   = (*ReceiptArchive)(nil)
)

func NewReceiptArchive(w domain.BlobWriter, r domain.BlobReader) *ReceiptArchive {
	return &ReceiptArchive{writer: w, reader: r, now: time.Now}
}

// WithSigner attaches the settler signature to every archived receipt.
func (a *ReceiptArchive) WithSigner(s RoundSigner, address string) *ReceiptArchive {
	a.signer = s
	a.signBy = address
	return a
}

// ReceiptPath is the object key for round id.
func ReceiptPath(id domain.RoundID) string {
	return "rounds/" + string(id) + "/settlement.json"
}

// ArchiveReceipt uploads receipt and returns its object key. Receipts are
// write-once: an existing object for the round is left untouched.
func (a *ReceiptArchive) ArchiveReceipt(ctx context.Context, receipt domain.SettlementReceipt) (string, error) {
	path := ReceiptPath(receipt.Round.ID)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", err
		}
		if exists {
			return path, nil
		}
	}
	if receipt.ArchivedAt.IsZero() {
		receipt.ArchivedAt = a.now().UTC()
	}
	if a.signer != nil {
		sig, err := a.signer.Sign(receipt.Round)
		if err != nil {
			return "", fmt.Errorf("s3blob: sign receipt %s: %w", receipt.Round.ID, err)
		}
		receipt.Signer, receipt.Signature = a.signBy, sig
	}

	body, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal receipt %s: %w", receipt.Round.ID, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		return "", err
	}
	return path, nil
}

// LoadReceipt returns domain.ErrNotFound (wrapped) when round id was never
// archived.
func (a *ReceiptArchive) LoadReceipt(ctx context.Context, id domain.RoundID) (domain.SettlementReceipt, error) {
	if a.reader == nil {
		return domain.SettlementReceipt{}, domain.ErrNotFound
	}
	rc, err := a.reader.Get(ctx, ReceiptPath(id))
	if err != nil {
		return domain.SettlementReceipt{}, err
	}
	defer rc.Close()

	var receipt domain.SettlementReceipt
	if err := json.NewDecoder(rc).Decode(&receipt); err != nil {
		return domain.SettlementReceipt{}, fmt.Errorf("s3blob: decode receipt %s: %w", id, err)
	}
	return receipt, nil
}

// ListReceipts returns every archived receipt object, oldest round first.
func (a *ReceiptArchive) ListReceipts(ctx context.Context) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, nil
	}
	objs, err := a.reader.List(ctx, "rounds/")
	if err != nil {
		return nil, err
	}
	out := objs[:0]
	for _, o := range objs {
		if strings.HasSuffix(o.Path, "/settlement.json") {
			o.ContentType = "application/json"
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
