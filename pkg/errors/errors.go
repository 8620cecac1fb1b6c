package errors

import (
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code     uint16
	Name     string
	GrpcCode grpccodes.Code
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

// Is reports whether any error in err's chain carries this code.
func (c Code[MT]) Is(err error) bool {
	var typed Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code() == c.Code
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	GrpcCode() grpccodes.Code
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	// convert any metadata to map[string]string
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err == nil {
		var genericMap map[string]any
		if err := json.Unmarshal(buf, &genericMap); err == nil {
			for k, v := range genericMap {
				vStr := ""
				if v != nil {
					vStr = fmt.Sprintf("%v", v)
				}
				metadata[k] = vStr
			}
		}
	}
	return metadata
}

func (e *ErrorImpl[MT]) GrpcCode() grpccodes.Code {
	return e.code.GrpcCode
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

type ChainMetadata struct {
	ChainId uint64 `json:"chain_id"`
}

type LogMetadata struct {
	ChainId     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
}

type TransitionMetadata struct {
	OrderId  string `json:"order_id"`
	Current  string `json:"current"`
	Expected string `json:"expected"`
	Target   string `json:"target"`
}

type LiquidityMetadata struct {
	ChainId   uint64 `json:"chain_id"`
	Token     string `json:"token"`
	Requested string `json:"requested"`
	Free      string `json:"free"`
}

type CommitmentMetadata struct {
	OrderId        string `json:"order_id"`
	CommitHash     string `json:"commit_hash"`
	RevealDeadline int64  `json:"reveal_deadline"`
}

type SettlementMetadata struct {
	OrderId      string `json:"order_id"`
	FillTxHash   string `json:"fill_tx_hash"`
	SettleTxHash string `json:"settle_tx_hash"`
	Attempts     int    `json:"attempts"`
}

type ReceiptMetadata struct {
	ReceiptId string `json:"receipt_id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
}

type EpochMetadata struct {
	Epoch        uint64 `json:"epoch"`
	CurrentEpoch uint64 `json:"current_epoch"`
	MaxAge       uint64 `json:"max_age"`
}

type HashMetadata struct {
	Hash string `json:"hash"`
}

type OrderMetadata struct {
	OrderId string `json:"order_id"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR", grpccodes.Internal}
var RPC_UNAVAILABLE = Code[ChainMetadata]{1, "RPC_UNAVAILABLE", grpccodes.Unavailable}
var DECODE_ERROR = Code[LogMetadata]{2, "DECODE_ERROR", grpccodes.InvalidArgument}

var INVALID_TRANSITION = Code[TransitionMetadata]{
	3,
	"INVALID_TRANSITION",
	grpccodes.FailedPrecondition,
}

var INSUFFICIENT_LIQUIDITY = Code[LiquidityMetadata]{
	4,
	"INSUFFICIENT_LIQUIDITY",
	grpccodes.ResourceExhausted,
}
var COMMIT_MISMATCH = Code[CommitmentMetadata]{5, "COMMIT_MISMATCH", grpccodes.InvalidArgument}
var REVEAL_EXPIRED = Code[CommitmentMetadata]{6, "REVEAL_EXPIRED", grpccodes.DeadlineExceeded}

var SETTLEMENT_PARTIAL_FAILURE = Code[SettlementMetadata]{
	7,
	"SETTLEMENT_PARTIAL_FAILURE",
	grpccodes.Aborted,
}

var DOUBLE_SPEND_RECEIPT = Code[ReceiptMetadata]{
	8,
	"DOUBLE_SPEND_RECEIPT",
	grpccodes.AlreadyExists,
}
var INVALID_SIGNATURE = Code[ReceiptMetadata]{9, "INVALID_SIGNATURE", grpccodes.InvalidArgument}
var EPOCH_OUT_OF_RANGE = Code[EpochMetadata]{10, "EPOCH_OUT_OF_RANGE", grpccodes.OutOfRange}
var MALFORMED_HASH = Code[HashMetadata]{11, "MALFORMED_HASH", grpccodes.InvalidArgument}
var EMPTY_AGGREGATION = Code[ReceiptMetadata]{12, "EMPTY_AGGREGATION", grpccodes.NotFound}
var INTENT_NOT_FOUND = Code[OrderMetadata]{13, "INTENT_NOT_FOUND", grpccodes.NotFound}

var COMMITMENT_PENDING = Code[CommitmentMetadata]{
	14,
	"COMMITMENT_PENDING",
	grpccodes.AlreadyExists,
}
var FILLED_BY_OTHER = Code[OrderMetadata]{15, "FILLED_BY_OTHER", grpccodes.AlreadyExists}
