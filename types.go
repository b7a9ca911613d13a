package permitrelay

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultMaxBulkRecipients caps the recipient list of a bulk transfer.
const DefaultMaxBulkRecipients = 50

// RequestKind tags the two request shapes accepted by the relayer
type RequestKind string

const (
	KindSingle RequestKind = "single"
	KindBulk   RequestKind = "bulk"
)

// Signature holds the three canonical components of an ECDSA signature.
// V is always 27 or 28 once decoded.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// Bytes returns the 65-byte r || s || v encoding
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[0:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// Hex returns the 0x-prefixed hex of Bytes()
func (s Signature) Hex() string {
	return "0x" + hex.EncodeToString(s.Bytes())
}

// Fingerprint is the replay registry key of a permit.
type Fingerprint [32]byte

// Hex returns the 0x-prefixed hex representation
func (f Fingerprint) Hex() string {
	return "0x" + hex.EncodeToString(f[:])
}

func (f Fingerprint) String() string {
	return f.Hex()
}

// ParseFingerprint parses a 0x-prefixed (or bare) 32-byte hex string
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fp, fmt.Errorf("invalid fingerprint hex: %w", err)
	}
	if len(raw) != len(fp) {
		return fp, fmt.Errorf("invalid fingerprint length: %d", len(raw))
	}
	copy(fp[:], raw)
	return fp, nil
}

// Request is either a *PermitRequest or a *BulkPermitRequest.
type Request interface {
	Kind() RequestKind
	// PermitOwner returns the holder whose signature authorizes the transfer
	PermitOwner() common.Address
}

// PermitRequest authorizes a single transfer of Value minus Fee to Recipient.
type PermitRequest struct {
	Owner     common.Address
	Spender   common.Address // relayer contract allowed to pull the funds
	Recipient common.Address
	Value     *big.Int
	Deadline  *big.Int // unix seconds
	Signature Signature
	Fee       *big.Int
	// Nonce optionally carries the nonce the holder signed over.
	Nonce *big.Int
}

func (r *PermitRequest) Kind() RequestKind           { return KindSingle }
func (r *PermitRequest) PermitOwner() common.Address { return r.Owner }

// RecipientAmount is one leg of a bulk transfer
type RecipientAmount struct {
	Recipient common.Address
	Amount    *big.Int
}

// BulkPermitRequest authorizes Value to be split across Recipients plus Fee.
type BulkPermitRequest struct {
	Owner      common.Address
	Spender    common.Address
	Recipients []RecipientAmount
	Value      *big.Int
	Deadline   *big.Int
	Signature  Signature
	Fee        *big.Int
	Nonce      *big.Int
}

func (r *BulkPermitRequest) Kind() RequestKind           { return KindBulk }
func (r *BulkPermitRequest) PermitOwner() common.Address { return r.Owner }

// ValidatedPermit is produced by a PermitValidator once a request has been
// consumed in the replay registry. Executors only accept these.
type ValidatedPermit struct {
	Request     Request
	Fingerprint Fingerprint
	// Nonce is the holder counter observed during validation (nil in signature mode)
	Nonce       *big.Int
	ValidatedAt time.Time
}

// Movement is a single value transfer inside an atomic batch
type Movement struct {
	To     common.Address
	Amount *big.Int
}

// PermitCall carries everything the ledger's permit-and-transfer primitive needs.
// Movements are ordered: fee first (when non-zero) then recipients in request order.
type PermitCall struct {
	Kind           RequestKind
	Owner          common.Address
	Spender        common.Address
	Value          *big.Int
	Deadline       *big.Int
	Signature      Signature
	Recipients     []RecipientAmount
	FeeBeneficiary common.Address
	Fee            *big.Int
	Movements      []Movement
}

// TransferStatus is the final state of an executed transfer
type TransferStatus string

const (
	TransferStatusConfirmed TransferStatus = "confirmed"
	TransferStatusFailed    TransferStatus = "failed"
)

// TransferResult is returned to callers after execution
type TransferResult struct {
	TxReference    string         `json:"txReference"`
	Status         TransferStatus `json:"status"`
	Fingerprint    Fingerprint    `json:"-"`
	Owner          common.Address `json:"owner"`
	RecipientCount int            `json:"recipientCount"`
	TotalPaidOut   *big.Int       `json:"totalPaidOut"`
	Fee            *big.Int       `json:"fee"`
}

// CompletionEvent is emitted once value has moved
type CompletionEvent struct {
	ID             string
	Owner          common.Address
	RecipientCount int
	TotalPaidOut   *big.Int
	Fee            *big.Int
	TxReference    string
	Fingerprint    Fingerprint
	Timestamp      time.Time
}
