package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ClobAuthMessage is the fixed attestation text of the L1 auth message.
const ClobAuthMessage = "This message attests that I control the given wallet"

// Order sides and signature types as encoded in the signed struct.
const (
	SideBuy  = 0
	SideSell = 1

	SigTypeEOA        = 0
	SigTypePolyProxy  = 1
	SigTypeGnosisSafe = 2
)

var (
	authDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	exchangeDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"),
	)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// SignedOrder holds the fields of a CTF Exchange order. Amounts are in the
// venue's 6-decimal fixed point units.
type SignedOrder struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
	Signature     string
}

// Signer produces EIP-712 signatures for CLOB auth and exchange orders.
type Signer struct {
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	chainID      int64
	authDomain   []byte
	exchangeAddr common.Address
	orderDomain  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key, the
// chain ID (137 for Polygon) and the CTF Exchange contract address.
func NewSigner(privateKeyHex string, chainID int, exchangeAddr string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	if !common.IsHexAddress(exchangeAddr) {
		return nil, fmt.Errorf("crypto/signer: invalid exchange address %q", exchangeAddr)
	}

	s := &Signer{
		privateKey:   pk,
		address:      ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:      int64(chainID),
		exchangeAddr: common.HexToAddress(exchangeAddr),
	}
	s.authDomain = ethcrypto.Keccak256(concatBytes(
		authDomainTypeHash,
		ethcrypto.Keccak256([]byte("ClobAuthDomain")),
		ethcrypto.Keccak256([]byte("1")),
		bigIntTo32Bytes(big.NewInt(s.chainID)),
	))
	s.orderDomain = ethcrypto.Keccak256(concatBytes(
		exchangeDomainTypeHash,
		ethcrypto.Keccak256([]byte("Polymarket CTF Exchange")),
		ethcrypto.Keccak256([]byte("1")),
		bigIntTo32Bytes(big.NewInt(s.chainID)),
		common.LeftPadBytes(s.exchangeAddr.Bytes(), 32),
	))
	return s, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs the ClobAuth message used to derive L2 API
// credentials. The result is a 0x-prefixed 65-byte hex signature.
func (s *Signer) SignAuthMessage(timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(concatBytes(
		clobAuthTypeHash,
		common.LeftPadBytes(s.address.Bytes(), 32),
		ethcrypto.Keccak256([]byte(fmt.Sprintf("%d", timestamp))),
		bigIntTo32Bytes(big.NewInt(nonce)),
		ethcrypto.Keccak256([]byte(ClobAuthMessage)),
	))
	return s.signDigest(eip712Hash(s.authDomain, structHash))
}

// OrderDigest returns the EIP-712 digest that SignOrder signs.
func (s *Signer) OrderDigest(o SignedOrder) ([]byte, error) {
	structHash, err := orderStructHash(o)
	if err != nil {
		return nil, err
	}
	return eip712Hash(s.orderDomain, structHash), nil
}

// SignOrder signs o and stores the signature on the returned copy.
func (s *Signer) SignOrder(o SignedOrder) (SignedOrder, error) {
	digest, err := s.OrderDigest(o)
	if err != nil {
		return o, err
	}
	sig, err := s.signDigest(digest)
	if err != nil {
		return o, err
	}
	o.Signature = sig
	return o, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// signDigest signs a 32-byte digest and returns r || s || v with v in {27,28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func orderStructHash(o SignedOrder) ([]byte, error) {
	fields := []struct {
		name string
		v    *big.Int
	}{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	}
	for _, f := range fields {
		if f.v == nil || f.v.Sign() < 0 {
			return nil, fmt.Errorf("crypto/signer: invalid %s", f.name)
		}
	}

	return ethcrypto.Keccak256(concatBytes(
		orderTypeHash,
		bigIntTo32Bytes(o.Salt),
		common.LeftPadBytes(o.Maker.Bytes(), 32),
		common.LeftPadBytes(o.Signer.Bytes(), 32),
		common.LeftPadBytes(o.Taker.Bytes(), 32),
		bigIntTo32Bytes(o.TokenID),
		bigIntTo32Bytes(o.MakerAmount),
		bigIntTo32Bytes(o.TakerAmount),
		bigIntTo32Bytes(o.Expiration),
		bigIntTo32Bytes(o.Nonce),
		bigIntTo32Bytes(o.FeeRateBps),
		bigIntTo32Bytes(big.NewInt(int64(o.Side))),
		bigIntTo32Bytes(big.NewInt(int64(o.SignatureType))),
	)), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

// concatBytes concatenates multiple byte slices into one.
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
