package application

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	solvererrors "github.com/arkade-os/solverd/pkg/errors"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// AttestationLedger issues, verifies and aggregates signed transfer receipts.
// Verification doesn't touch the ledger state and takes no lock.
type AttestationLedger struct {
	clock  domain.EpochClock
	maxAge uint64
	repo   domain.ReceiptRepository
	now    func() time.Time

	lock    sync.RWMutex
	pending map[string]domain.TransferReceipt
}

func NewAttestationLedger(
	cfg AttestationConfig, repo domain.ReceiptRepository,
) *AttestationLedger {
	return &AttestationLedger{
		clock:   domain.EpochClock{Width: cfg.EpochWidth},
		maxAge:  cfg.MaxReceiptAge,
		repo:    repo,
		now:     time.Now,
		pending: make(map[string]domain.TransferReceipt),
	}
}

func (l *AttestationLedger) CurrentEpoch() uint64 {
	return l.clock.EpochAt(l.now())
}

// CreateReceipt signs, as receiver, a receipt for size bytes of content
// received from sender.
func (l *AttestationLedger) CreateReceipt(
	receiverKey *ecdsa.PrivateKey, sender, contentHash string, size uint64,
) (*domain.TransferReceipt, error) {
	if receiverKey == nil {
		return nil, fmt.Errorf("missing receiver key")
	}
	if !domain.IsValidContentHash(contentHash) {
		return nil, solvererrors.MALFORMED_HASH.New("malformed content hash %q", contentHash).
			WithMetadata(solvererrors.HashMetadata{Hash: contentHash})
	}
	if !common.IsHexAddress(sender) {
		return nil, fmt.Errorf("invalid sender address %q", sender)
	}

	now := l.now()
	receipt := domain.TransferReceipt{
		Id:          uuid.New().String(),
		Sender:      strings.ToLower(sender),
		Receiver:    strings.ToLower(crypto.PubkeyToAddress(receiverKey.PublicKey).Hex()),
		ContentHash: strings.ToLower(contentHash),
		Size:        size,
		Epoch:       l.clock.EpochAt(now),
		Timestamp:   now.UnixMilli(),
	}

	sig, err := crypto.Sign(accounts.TextHash([]byte(receipt.SigningMessage())), receiverKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	receipt.Signature = hexutil.Encode(sig)
	return &receipt, nil
}

// VerifyReceipt checks the receipt; empty expected sender or receiver skip the
// corresponding check.
func (l *AttestationLedger) VerifyReceipt(
	receipt domain.TransferReceipt, expectedSender, expectedReceiver string,
) Verification {
	details := VerificationDetails{
		SenderValid:   common.IsHexAddress(receipt.Sender),
		ReceiverValid: common.IsHexAddress(receipt.Receiver),
		HashValid:     domain.IsValidContentHash(receipt.ContentHash),
		EpochValid:    domain.IsRecent(receipt.Epoch, l.CurrentEpoch(), l.maxAge),
	}
	errs := make([]string, 0)

	if details.SenderValid && expectedSender != "" &&
		!strings.EqualFold(receipt.Sender, expectedSender) {
		details.SenderValid = false
	}
	if !details.SenderValid {
		errs = append(errs, "sender mismatch")
	}
	if details.ReceiverValid && expectedReceiver != "" &&
		!strings.EqualFold(receipt.Receiver, expectedReceiver) {
		details.ReceiverValid = false
	}
	if !details.ReceiverValid {
		errs = append(errs, "receiver mismatch")
	}
	if !details.HashValid {
		errs = append(errs, "malformed content hash")
	}
	if !details.EpochValid {
		errs = append(errs, fmt.Sprintf("epoch %d out of range", receipt.Epoch))
	}

	details.SignatureValid = verifyReceiptSignature(receipt)
	if !details.SignatureValid {
		errs = append(errs, "invalid signature")
	}

	return Verification{
		Valid: details.SenderValid && details.ReceiverValid && details.HashValid &&
			details.EpochValid && details.SignatureValid,
		Errors:  errs,
		Details: details,
	}
}

// Aggregate folds the given sender's receipts in (epoch, timestamp, id) order.
func (l *AttestationLedger) Aggregate(
	receipts []domain.TransferReceipt, sender string,
) (*domain.AggregatedReceipt, error) {
	selected := make([]domain.TransferReceipt, 0, len(receipts))
	for _, r := range receipts {
		if strings.EqualFold(r.Sender, sender) {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return nil, solvererrors.EMPTY_AGGREGATION.New("no receipts for sender %s", sender).
			WithMetadata(solvererrors.ReceiptMetadata{Sender: sender})
	}

	sort.Slice(selected, func(i, j int) bool {
		a, b := selected[i], selected[j]
		if a.Epoch != b.Epoch {
			return a.Epoch < b.Epoch
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.Id < b.Id
	})

	aggregated := &domain.AggregatedReceipt{
		Sender:     strings.ToLower(sender),
		ReceiptIds: make([]string, 0, len(selected)),
		EpochRange: domain.EpochRange{Min: selected[0].Epoch, Max: selected[0].Epoch},
	}
	hashes := make([][]byte, 0, len(selected))
	for _, r := range selected {
		hash, err := hexutil.Decode(r.ContentHash)
		if err != nil || len(hash) != 32 {
			return nil, solvererrors.MALFORMED_HASH.New(
				"receipt %s has malformed content hash", r.Id,
			).WithMetadata(solvererrors.HashMetadata{Hash: r.ContentHash})
		}
		hashes = append(hashes, hash)
		aggregated.ReceiptIds = append(aggregated.ReceiptIds, r.Id)
		aggregated.TotalUploaded += r.Size
		aggregated.EpochRange.Min = min(aggregated.EpochRange.Min, r.Epoch)
		aggregated.EpochRange.Max = max(aggregated.EpochRange.Max, r.Epoch)
	}
	aggregated.AggregateHash = crypto.Keccak256Hash(hashes...).Hex()
	return aggregated, nil
}

// AddReceipt validates the receipt and keeps it pending until aggregated.
func (l *AttestationLedger) AddReceipt(ctx context.Context, receipt domain.TransferReceipt) error {
	metadata := solvererrors.ReceiptMetadata{
		ReceiptId: receipt.Id,
		Sender:    receipt.Sender,
		Receiver:  receipt.Receiver,
	}
	if receipt.Id == "" {
		return fmt.Errorf("missing receipt id")
	}

	verification := l.VerifyReceipt(receipt, "", "")
	if !verification.Valid {
		details := verification.Details
		switch {
		case !details.HashValid:
			return solvererrors.MALFORMED_HASH.New("malformed content hash").
				WithMetadata(solvererrors.HashMetadata{Hash: receipt.ContentHash})
		case !details.EpochValid:
			return solvererrors.EPOCH_OUT_OF_RANGE.New("receipt epoch out of range").
				WithMetadata(solvererrors.EpochMetadata{
					Epoch:        receipt.Epoch,
					CurrentEpoch: l.CurrentEpoch(),
					MaxAge:       l.maxAge,
				})
		default:
			return solvererrors.INVALID_SIGNATURE.New(
				"invalid receipt: %s", strings.Join(verification.Errors, ", "),
			).WithMetadata(metadata)
		}
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	used, err := l.repo.AnyUsed(ctx, []string{receipt.Id})
	if err != nil {
		return fmt.Errorf("failed to check used receipts: %w", err)
	}
	if len(used) > 0 {
		log.WithFields(log.Fields{
			"receipt_id": receipt.Id,
			"sender":     receipt.Sender,
		}).Warn("rejected already used receipt")
		return solvererrors.DOUBLE_SPEND_RECEIPT.New("receipt %s already used", receipt.Id).
			WithMetadata(metadata)
	}

	if existing, ok := l.pending[receipt.Id]; ok {
		if existing.Signature != receipt.Signature {
			return solvererrors.DOUBLE_SPEND_RECEIPT.New(
				"receipt %s already pending with a different signature", receipt.Id,
			).WithMetadata(metadata)
		}
		return nil
	}

	receipt.Sender = strings.ToLower(receipt.Sender)
	receipt.Receiver = strings.ToLower(receipt.Receiver)
	receipt.ContentHash = strings.ToLower(receipt.ContentHash)
	l.pending[receipt.Id] = receipt
	return nil
}

// MarkUsed persists the ids in the used set and drops them from the pending ones.
func (l *AttestationLedger) MarkUsed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	if err := l.repo.MarkUsed(ctx, ids); err != nil {
		return fmt.Errorf("failed to mark receipts as used: %w", err)
	}
	for _, id := range ids {
		delete(l.pending, id)
	}
	return nil
}

// Cleanup evicts the pending receipts whose epoch is maxEpoch or older.
func (l *AttestationLedger) Cleanup(maxEpoch uint64) int {
	l.lock.Lock()
	defer l.lock.Unlock()

	count := 0
	for id, r := range l.pending {
		if r.Epoch <= maxEpoch {
			delete(l.pending, id)
			count++
		}
	}
	return count
}

// Pending returns the pending receipts of the sender, or all of them if
// sender is empty.
func (l *AttestationLedger) Pending(sender string) []domain.TransferReceipt {
	l.lock.RLock()
	defer l.lock.RUnlock()

	receipts := make([]domain.TransferReceipt, 0)
	for _, r := range l.pending {
		if sender == "" || strings.EqualFold(r.Sender, sender) {
			receipts = append(receipts, r)
		}
	}
	sort.Slice(receipts, func(i, j int) bool { return receipts[i].Id < receipts[j].Id })
	return receipts
}

// Senders lists the senders with pending receipts.
func (l *AttestationLedger) Senders() []string {
	l.lock.RLock()
	defer l.lock.RUnlock()

	set := make(map[string]struct{})
	for _, r := range l.pending {
		set[r.Sender] = struct{}{}
	}
	senders := make([]string, 0, len(set))
	for s := range set {
		senders = append(senders, s)
	}
	sort.Strings(senders)
	return senders
}

func verifyReceiptSignature(receipt domain.TransferReceipt) bool {
	if !common.IsHexAddress(receipt.Receiver) {
		return false
	}
	sig, err := hexutil.Decode(receipt.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pubkey, err := crypto.SigToPub(accounts.TextHash([]byte(receipt.SigningMessage())), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pubkey) == common.HexToAddress(receipt.Receiver)
}
