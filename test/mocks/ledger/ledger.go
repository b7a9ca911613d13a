package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/mechanisms/evm"
)

// ============================================================================
// In-process EIP-2612 ledger
// ============================================================================

// Ledger is an in-memory permitrelay.Ledger. Its permit primitive verifies
// EIP-712 signatures exactly like an EIP-2612 token: it recovers the signer
// over the holder's current nonce and bumps the nonce on success. Transfers
// in one call are all-or-nothing.
type Ledger struct {
	mu sync.Mutex

	token    common.Address
	chainID  *big.Int
	decimals uint8
	name     string
	version  string

	// exposeName / exposeVersion control whether Name/Version answer or
	// report ErrNotSupported; the domain used for verification is unchanged.
	exposeName    bool
	exposeVersion bool

	balances map[common.Address]*big.Int
	nonces   map[common.Address]*big.Int
	now      func() time.Time

	txCount     int
	submissions []permitrelay.PermitCall

	simulateErr error
	submitErr   error
}

// Option configures a Ledger
type Option func(*Ledger)

// WithDomain sets the EIP-712 name and version the token verifies against
func WithDomain(name, version string) Option {
	return func(l *Ledger) {
		l.name = name
		l.version = version
	}
}

// WithoutName makes Name report ErrNotSupported
func WithoutName() Option {
	return func(l *Ledger) { l.exposeName = false }
}

// WithoutVersion makes Version report ErrNotSupported
func WithoutVersion() Option {
	return func(l *Ledger) { l.exposeVersion = false }
}

// WithChainID sets the chain id
func WithChainID(chainID int64) Option {
	return func(l *Ledger) { l.chainID = big.NewInt(chainID) }
}

// WithDecimals sets the token decimals
func WithDecimals(decimals uint8) Option {
	return func(l *Ledger) { l.decimals = decimals }
}

// WithClock sets the clock used for deadline checks
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger for a USDC-like token
func New(opts ...Option) *Ledger {
	l := &Ledger{
		token:         common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		chainID:       big.NewInt(84532),
		decimals:      evm.DefaultDecimals,
		name:          "USD Coin",
		version:       "2",
		exposeName:    true,
		exposeVersion: true,
		balances:      make(map[common.Address]*big.Int),
		nonces:        make(map[common.Address]*big.Int),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ============================================================================
// Test controls
// ============================================================================

// SetBalance sets owner's balance
func (l *Ledger) SetBalance(owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] = new(big.Int).Set(amount)
}

// Balance returns owner's balance
func (l *Ledger) Balance(owner common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(owner))
}

// SetNonce sets owner's permit nonce
func (l *Ledger) SetNonce(owner common.Address, nonce *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nonces[owner] = new(big.Int).Set(nonce)
}

// FailSimulation makes every SimulatePermit return err (nil clears it)
func (l *Ledger) FailSimulation(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.simulateErr = err
}

// FailSubmission makes every PermitAndTransfer return err (nil clears it)
func (l *Ledger) FailSubmission(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErr = err
}

// Submissions returns the calls that moved value
func (l *Ledger) Submissions() []permitrelay.PermitCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]permitrelay.PermitCall, len(l.submissions))
	copy(out, l.submissions)
	return out
}

// Domain returns the token domain holders must sign under
func (l *Ledger) Domain() evm.TokenDomain {
	return evm.TokenDomain{
		Name:              l.name,
		Version:           l.version,
		ChainID:           new(big.Int).Set(l.chainID),
		VerifyingContract: l.token,
		Decimals:          int(l.decimals),
	}
}

// ============================================================================
// permitrelay.Ledger
// ============================================================================

func (l *Ledger) Token() common.Address {
	return l.token
}

func (l *Ledger) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(l.chainID), nil
}

func (l *Ledger) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return l.Balance(owner), nil
}

func (l *Ledger) Decimals(ctx context.Context) (uint8, error) {
	return l.decimals, nil
}

func (l *Ledger) Nonces(ctx context.Context, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.nonceLocked(owner)), nil
}

func (l *Ledger) Name(ctx context.Context) (string, error) {
	if !l.exposeName {
		return "", permitrelay.ErrNotSupported
	}
	return l.name, nil
}

func (l *Ledger) Version(ctx context.Context) (string, error) {
	if !l.exposeVersion {
		return "", permitrelay.ErrNotSupported
	}
	return l.version, nil
}

// SimulatePermit verifies the permit without consuming it or moving value
func (l *Ledger) SimulatePermit(ctx context.Context, call *permitrelay.PermitCall) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.simulateErr != nil {
		return l.simulateErr
	}
	return l.verifyPermitLocked(call)
}

// PermitAndTransfer verifies the permit, bumps the nonce and applies every
// movement, or changes nothing at all.
func (l *Ledger) PermitAndTransfer(ctx context.Context, call *permitrelay.PermitCall) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.submitErr != nil {
		return "", l.submitErr
	}
	if err := l.verifyPermitLocked(call); err != nil {
		return "", err
	}

	total := new(big.Int)
	for _, m := range call.Movements {
		if m.Amount == nil || m.Amount.Sign() <= 0 {
			return "", permitrelay.NewTransportFailure(errors.New("invalid movement amount"))
		}
		if m.To == (common.Address{}) {
			return "", permitrelay.NewTransportFailure(errors.New("transfer to the zero address"))
		}
		total.Add(total, m.Amount)
	}
	if total.Cmp(call.Value) > 0 {
		return "", permitrelay.NewTransportFailure(errors.New("insufficient allowance"))
	}
	if l.balanceLocked(call.Owner).Cmp(total) < 0 {
		return "", permitrelay.NewTransportFailure(errors.New("transfer amount exceeds balance"))
	}

	owner := l.balanceLocked(call.Owner)
	owner.Sub(owner, total)
	for _, m := range call.Movements {
		to := l.balanceLocked(m.To)
		to.Add(to, m.Amount)
	}
	nonce := l.nonceLocked(call.Owner)
	nonce.Add(nonce, big.NewInt(1))

	l.txCount++
	l.submissions = append(l.submissions, *call)
	return common.BytesToHash(crypto.Keccak256([]byte(fmt.Sprintf("tx-%d", l.txCount)))).Hex(), nil
}

func (l *Ledger) verifyPermitLocked(call *permitrelay.PermitCall) error {
	if call == nil {
		return permitrelay.NewTransportFailure(errors.New("nil permit call"))
	}
	if call.Deadline == nil || big.NewInt(l.now().Unix()).Cmp(call.Deadline) > 0 {
		return permitrelay.NewSignatureRejected(errors.New("ERC2612ExpiredSignature"))
	}

	var msg evm.TypedMessage
	nonce := new(big.Int).Set(l.nonceLocked(call.Owner))
	switch call.Kind {
	case permitrelay.KindSingle:
		msg = evm.BuildPermitMessage(evm.PermitMessageParams{
			Domain:   l.Domain(),
			Owner:    call.Owner,
			Spender:  call.Spender,
			Value:    call.Value,
			Nonce:    nonce,
			Deadline: call.Deadline,
		})
	case permitrelay.KindBulk:
		transfers := make([]evm.Transfer, len(call.Recipients))
		for i, leg := range call.Recipients {
			transfers[i] = evm.Transfer{To: leg.Recipient, Amount: leg.Amount}
		}
		msg = evm.BuildBulkPermitMessage(evm.BulkPermitMessageParams{
			Domain:    l.Domain(),
			Owner:     call.Owner,
			Spender:   call.Spender,
			Value:     call.Value,
			Nonce:     nonce,
			Deadline:  call.Deadline,
			Transfers: transfers,
		})
	default:
		return permitrelay.NewTransportFailure(fmt.Errorf("unknown request kind %q", call.Kind))
	}

	ok, err := evm.VerifySigner(msg, call.Signature, call.Owner)
	if err != nil {
		return permitrelay.NewTransportFailure(err)
	}
	if !ok {
		return permitrelay.NewSignatureRejected(errors.New("ERC2612InvalidSigner"))
	}
	return nil
}

func (l *Ledger) balanceLocked(owner common.Address) *big.Int {
	b, ok := l.balances[owner]
	if !ok {
		b = new(big.Int)
		l.balances[owner] = b
	}
	return b
}

func (l *Ledger) nonceLocked(owner common.Address) *big.Int {
	n, ok := l.nonces[owner]
	if !ok {
		n = new(big.Int)
		l.nonces[owner] = n
	}
	return n
}

var _ permitrelay.Ledger = (*Ledger)(nil)
