// Package account manages the sender accounts of a benchmark run.
package account

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NonceSource reports the confirmed sequence number of an address.
type NonceSource interface {
	GetConfirmedNonce(ctx context.Context, address string) (uint64, error)
}

// Account holds a sender's keys and its next sequence number.
type Account struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
	Label      string
	nonce      uint64
	mu         sync.Mutex
}

// NewAccount creates an account from a private key.
func NewAccount(privateKey *ecdsa.PrivateKey, label string) *Account {
	return &Account{
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		Label:      label,
	}
}

// NewAccountFromHex creates an account from a hex-encoded private key.
func NewAccountFromHex(hexKey string) (*Account, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, err
	}
	return NewAccount(privateKey, ""), nil
}

// FromLabel derives an account deterministically from a seed label.
// The private key is keccak256(label).
func FromLabel(label string) (*Account, error) {
	privateKey, err := crypto.ToECDSA(crypto.Keccak256([]byte(label)))
	if err != nil {
		return nil, fmt.Errorf("derive %q: %w", label, err)
	}
	return NewAccount(privateKey, label), nil
}

// UserLabel is the seed label of the i-th benchmark user.
func UserLabel(i int) string {
	return fmt.Sprintf("//user//%04d", i)
}

// Nonce represents a reserved nonce that must be committed or rolled back.
// Use defer n.Rollback() immediately after reserving to ensure cleanup.
type Nonce struct {
	value     uint64
	account   *Account
	committed atomic.Bool
}

// Value returns the nonce value.
func (n *Nonce) Value() uint64 {
	return n.value
}

// Commit marks the nonce as successfully used.
func (n *Nonce) Commit() {
	n.committed.Store(true)
}

// Rollback returns the nonce to the account if not committed.
// Safe to call multiple times.
func (n *Nonce) Rollback() {
	if n.committed.Swap(true) {
		return
	}
	n.account.rollback(n.value)
}

// ReserveNonce reserves the next nonce for a send that may fail.
// The returned Nonce MUST be either committed or rolled back.
func (a *Account) ReserveNonce() *Nonce {
	return &Nonce{
		value:   a.next(),
		account: a,
	}
}

func (a *Account) next() uint64 {
	a.mu.Lock()
	nonce := a.nonce
	a.nonce++
	a.mu.Unlock()
	return nonce
}

// rollback decrements nonce only if it was the last one issued.
func (a *Account) rollback(nonce uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nonce == nonce+1 {
		a.nonce = nonce
	}
}

// Resync fetches the confirmed nonce from the chain and raises local state to it.
// Local state never moves backwards, so reservations made during the call survive.
func (a *Account) Resync(ctx context.Context, src NonceSource) error {
	nonce, err := src.GetConfirmedNonce(ctx, a.Address.Hex())
	if err != nil {
		return err
	}
	a.mu.Lock()
	if nonce > a.nonce {
		a.nonce = nonce
	}
	a.mu.Unlock()
	return nil
}

// SetNonce sets the nonce value directly.
func (a *Account) SetNonce(nonce uint64) {
	a.mu.Lock()
	a.nonce = nonce
	a.mu.Unlock()
}

// PeekNonce returns the current nonce without incrementing.
func (a *Account) PeekNonce() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonce
}

// DevPrivateKeys are the prefunded keys of common development nodes (Anvil/Hardhat).
var DevPrivateKeys = map[string]string{
	"alice":   "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"bob":     "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	"charlie": "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
	"dave":    "7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6",
}

// Funder resolves a funder account from a well-known name ("alice", "//Alice")
// or a hex private key.
func Funder(nameOrKey string) (*Account, error) {
	name := strings.ToLower(strings.TrimPrefix(nameOrKey, "//"))
	if key, ok := DevPrivateKeys[name]; ok {
		acc, err := NewAccountFromHex(key)
		if err != nil {
			return nil, err
		}
		acc.Label = "//" + strings.ToUpper(name[:1]) + name[1:]
		return acc, nil
	}
	acc, err := NewAccountFromHex(nameOrKey)
	if err != nil {
		return nil, fmt.Errorf("funder is neither a known name nor a private key: %w", err)
	}
	acc.Label = "funder"
	return acc, nil
}
