// Package wallet validates Ethereum-style wallet addresses and proves their
// ownership with personal_sign challenges.
package wallet

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/skip2/go-qrcode"
)

const QRSize = 256

var (
	ErrInvalidAddress   = errors.New("INVALID_ADDRESS")
	ErrInvalidSignature = errors.New("INVALID_SIGNATURE")
)

// NormalizeAddress validates a 0x-prefixed 20 byte hex address and returns
// its EIP-55 checksum form.
func NormalizeAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return "", ErrInvalidAddress
	}
	if !common.IsHexAddress(raw) {
		return "", ErrInvalidAddress
	}
	address := common.HexToAddress(raw)
	if address == (common.Address{}) {
		return "", ErrInvalidAddress
	}
	return address.Hex(), nil
}

func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ChallengeMessage is the text a wallet signs to link address to an account.
func ChallengeMessage(address, nonce string) string {
	return fmt.Sprintf("Link wallet %s to your chainvote account.\nNonce: %s", address, nonce)
}

// VerifySignature checks that sigHex is a personal_sign signature of message
// made by the key behind address. Recovery ids 0/1 and 27/28 are accepted.
func VerifySignature(address, message, sigHex string) error {
	sig, err := hexutil.Decode(strings.TrimSpace(sigHex))
	if err != nil || len(sig) != crypto.SignatureLength {
		return ErrInvalidSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return ErrInvalidSignature
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(address) {
		return ErrInvalidSignature
	}
	return nil
}

// SignMessage produces the signature a browser wallet returns for
// personal_sign, with a 27/28 recovery id.
func SignMessage(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Receipt hashes the parts of a vote into a Keccak-256 hex digest.
func Receipt(parts ...string) string {
	return crypto.Keccak256Hash([]byte(strings.Join(parts, "|"))).Hex()
}

// QRCode renders address as a PNG.
func QRCode(address string) ([]byte, error) {
	return qrcode.Encode(address, qrcode.Medium, QRSize)
}
