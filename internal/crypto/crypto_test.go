package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	testKey      = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testExchange = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner("0x"+testKey, 137, testExchange)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func recoverAddress(t *testing.T, digest []byte, sigHex string) common.Address {
	t.Helper()
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("v = %d, want 27 or 28", sig[64])
	}
	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatal(err)
	}
	return ethcrypto.PubkeyToAddress(*pub)
}

func testOrder(s *Signer) SignedOrder {
	return SignedOrder{
		Salt:          big.NewInt(12345),
		Maker:         common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Signer:        s.Address(),
		TokenID:       new(big.Int).SetUint64(987654321),
		MakerAmount:   big.NewInt(5_200_000),
		TakerAmount:   big.NewInt(10_000_000),
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          SideBuy,
		SignatureType: SigTypePolyProxy,
	}
}

func TestSignOrder_RecoversSigner(t *testing.T) {
	s := newTestSigner(t)
	o := testOrder(s)

	signed, err := s.SignOrder(o)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	digest, err := s.OrderDigest(o)
	if err != nil {
		t.Fatal(err)
	}
	if got := recoverAddress(t, digest, signed.Signature); got != s.Address() {
		t.Fatalf("recovered %s, want %s", got.Hex(), s.Address().Hex())
	}
}

func TestOrderDigest_BindsFields(t *testing.T) {
	s := newTestSigner(t)
	a, _ := s.OrderDigest(testOrder(s))
	o := testOrder(s)
	o.TakerAmount = big.NewInt(10_000_001)
	b, _ := s.OrderDigest(o)
	if hex.EncodeToString(a) == hex.EncodeToString(b) {
		t.Fatal("digest did not change with taker amount")
	}

	other, err := NewSigner(testKey, 80002, testExchange)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := other.OrderDigest(testOrder(s))
	if hex.EncodeToString(a) == hex.EncodeToString(c) {
		t.Fatal("digest did not change with chain id")
	}
}

func TestOrderDigest_RejectsMissingFields(t *testing.T) {
	s := newTestSigner(t)
	o := testOrder(s)
	o.Salt = nil
	if _, err := s.OrderDigest(o); err == nil {
		t.Fatal("expected error for nil salt")
	}
}

func TestSignAuthMessage(t *testing.T) {
	s := newTestSigner(t)
	sig, err := s.SignAuthMessage(1700000000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Fatalf("unexpected signature %q", sig)
	}
	again, _ := s.SignAuthMessage(1700000000, 0)
	if sig != again {
		t.Fatal("auth signature not deterministic")
	}
}

func TestNewSigner_Invalid(t *testing.T) {
	if _, err := NewSigner("zz", 137, testExchange); err == nil {
		t.Error("expected error for bad key")
	}
	if _, err := NewSigner(testKey, 137, "not-an-address"); err == nil {
		t.Error("expected error for bad exchange address")
	}
}

func TestL2HeadersAt(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("super-secret"))
	h := &HMACAuth{Key: "key-1", Secret: secret, Passphrase: "pass"}

	got := h.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)

	mac := hmac.New(sha256.New, []byte("super-secret"))
	mac.Write([]byte(`1700000000POST/order{"a":1}`))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	if got["POLY_SIGNATURE"] != want {
		t.Errorf("signature = %s, want %s", got["POLY_SIGNATURE"], want)
	}
	if got["POLY_TIMESTAMP"] != "1700000000" || got["POLY_API_KEY"] != "key-1" || got["POLY_ADDRESS"] != "0xabc" {
		t.Errorf("unexpected headers: %v", got)
	}
	if strings.Contains(h.String(), "super") {
		t.Error("String() leaks the secret")
	}
}

func TestKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	if err := WriteKeyFile(path, "0x"+testKey, "hunter2"); err != nil {
		t.Fatalf("WriteKeyFile: %v", err)
	}

	got, err := LoadKey(KeySource{Path: path, Password: "hunter2"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != testKey {
		t.Fatalf("key = %s, want %s", got, testKey)
	}

	if _, err := LoadKey(KeySource{Path: path, Password: "wrong"}); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestLoadKey_RawAndMissing(t *testing.T) {
	got, err := LoadKey(KeySource{Raw: "0x" + strings.ToUpper(testKey)})
	if err != nil {
		t.Fatal(err)
	}
	if got != testKey {
		t.Fatalf("key = %s", got)
	}
	if _, err := LoadKey(KeySource{Raw: "abcd"}); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := LoadKey(KeySource{}); err == nil {
		t.Fatal("expected error with no source")
	}
}
