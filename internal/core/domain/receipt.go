package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const receiptMessagePrefix = "TRANSFER_RECEIPT"

var contentHashRegexp = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

type TransferReceipt struct {
	Id          string `json:"id"`
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver"`
	ContentHash string `json:"contentHash"`
	Size        uint64 `json:"size"`
	Epoch       uint64 `json:"epoch"`
	Signature   string `json:"signature"`
	Timestamp   int64  `json:"timestamp"`
}

// SigningMessage returns the canonical string signed by the receiver.
func (r TransferReceipt) SigningMessage() string {
	return ReceiptSigningMessage(r.ContentHash, r.Sender, r.Receiver, r.Size, r.Epoch)
}

func ReceiptSigningMessage(contentHash, sender, receiver string, size, epoch uint64) string {
	return fmt.Sprintf(
		"%s:%s:%s:%s:%d:%d",
		receiptMessagePrefix,
		strings.ToLower(contentHash), strings.ToLower(sender), strings.ToLower(receiver),
		size, epoch,
	)
}

func IsValidContentHash(hash string) bool {
	return contentHashRegexp.MatchString(strings.ToLower(hash))
}

type EpochRange struct {
	Min uint64 `json:"min"`
	Max uint64 `json:"max"`
}

type AggregatedReceipt struct {
	Sender        string     `json:"sender"`
	ReceiptIds    []string   `json:"receiptIds"`
	TotalUploaded uint64     `json:"totalUploaded"`
	AggregateHash string     `json:"aggregateHash"`
	EpochRange    EpochRange `json:"epochRange"`
}

// EpochClock buckets wall-clock time into fixed-width epochs.
type EpochClock struct {
	Width time.Duration
}

func (c EpochClock) EpochAt(t time.Time) uint64 {
	width := int64(c.Width / time.Second)
	if width <= 0 {
		width = 1
	}
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix / width)
}

// IsRecent tells whether epoch is not in the future and at most maxAge epochs old.
func IsRecent(epoch, current, maxAge uint64) bool {
	if epoch > current {
		return false
	}
	return current-epoch <= maxAge
}
