package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AmountScale converts float leg amounts to the fixed-point integers that
// are hashed. Eight decimals matches the venue wire format.
const AmountScale = 1e8

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// LegIntent(address account,uint256 nonce,uint256 legIndex,bytes32 ref,bytes32 fromAsset,bytes32 toAsset,uint256 amount,bytes32 idempotencyKey)
	legIntentTypeHash = ethcrypto.Keccak256(
		[]byte("LegIntent(address account,uint256 nonce,uint256 legIndex,bytes32 ref,bytes32 fromAsset,bytes32 toAsset,uint256 amount,bytes32 idempotencyKey)"),
	)
)

// LegIntent is the signed authorization for one leg submission. Retries
// of a leg sign the same intent.
type LegIntent struct {
	Nonce          uint64
	LegIndex       int
	Ref            string
	From           string
	To             string
	Amount         float64
	IdempotencyKey string
}

// Signer signs leg intents with the account's secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded private key. chainID scopes
// signatures to one venue deployment.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator("ArbEngine", "1", chainID),
	}, nil
}

// Address is the account address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignLeg returns the 0x-prefixed 65-byte signature over intent.
func (s *Signer) SignLeg(intent LegIntent) (string, error) {
	digest, err := s.Digest(intent)
	if err != nil {
		return "", err
	}
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Digest is the EIP-712 digest of intent under this signer's domain.
func (s *Signer) Digest(intent LegIntent) ([]byte, error) {
	structHash, err := legStructHash(s.address, intent)
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, s.domainSep, structHash)), nil
}

// RecoverAddress returns the address that produced sig over digest.
func RecoverAddress(digest []byte, sig string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: signature hex: %w", err)
	}
	if len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes, want 65", len(raw))
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func domainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			domainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

func legStructHash(account common.Address, in LegIntent) ([]byte, error) {
	if in.Amount < 0 || math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) {
		return nil, fmt.Errorf("crypto/signer: invalid amount %g", in.Amount)
	}
	if in.LegIndex < 0 {
		return nil, fmt.Errorf("crypto/signer: invalid leg index %d", in.LegIndex)
	}
	amount, _ := new(big.Float).Mul(big.NewFloat(in.Amount), big.NewFloat(AmountScale)).Int(nil)

	return ethcrypto.Keccak256(
		concatBytes(
			legIntentTypeHash,
			common.LeftPadBytes(account.Bytes(), 32),
			bigIntTo32Bytes(new(big.Int).SetUint64(in.Nonce)),
			bigIntTo32Bytes(big.NewInt(int64(in.LegIndex))),
			ethcrypto.Keccak256([]byte(in.Ref)),
			ethcrypto.Keccak256([]byte(in.From)),
			ethcrypto.Keccak256([]byte(in.To)),
			bigIntTo32Bytes(amount),
			ethcrypto.Keccak256([]byte(in.IdempotencyKey)),
		),
	), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
