package evm

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	testToken   = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	testOwner   = common.HexToAddress("0x857b06519E91e3A54538791bDbb0E22373e36b66")
	testSpender = common.HexToAddress("0x4020615294c913F045dc10f0a5cdEbd86c280001")
	testAlice   = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	testBob     = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

func testDomain() TokenDomain {
	return TokenDomain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(84532),
		VerifyingContract: testToken,
		Decimals:          6,
	}
}

func padAddress(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func padInt(v int64) []byte {
	return math.U256Bytes(big.NewInt(v))
}

func manualDomainSeparator(d TokenDomain) []byte {
	typeHash := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	return crypto.Keccak256(
		typeHash,
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		math.U256Bytes(new(big.Int).Set(d.ChainID)),
		padAddress(d.VerifyingContract),
	)
}

func TestBuildPermitMessageHashMatchesEIP2612Encoding(t *testing.T) {
	domain := testDomain()
	msg := BuildPermitMessage(PermitMessageParams{
		Domain:   domain,
		Owner:    testOwner,
		Spender:  testSpender,
		Value:    big.NewInt(1000000),
		Nonce:    big.NewInt(3),
		Deadline: big.NewInt(1900000000),
	})

	got, err := msg.Hash()
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	typeHash := crypto.Keccak256([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
	structHash := crypto.Keccak256(
		typeHash,
		padAddress(testOwner),
		padAddress(testSpender),
		padInt(1000000),
		padInt(3),
		padInt(1900000000),
	)
	want := crypto.Keccak256([]byte{0x19, 0x01}, manualDomainSeparator(domain), structHash)

	if !bytes.Equal(got, want) {
		t.Errorf("digest mismatch:\n got  %x\n want %x", got, want)
	}
}

func TestBuildBulkPermitMessageHashBindsTransfers(t *testing.T) {
	domain := testDomain()
	params := BulkPermitMessageParams{
		Domain:   domain,
		Owner:    testOwner,
		Spender:  testSpender,
		Value:    big.NewInt(1000000),
		Nonce:    big.NewInt(0),
		Deadline: big.NewInt(1900000000),
		Transfers: []Transfer{
			{To: testAlice, Amount: big.NewInt(600000)},
			{To: testBob, Amount: big.NewInt(390000)},
		},
	}
	msg := BuildBulkPermitMessage(params)

	got, err := msg.Hash()
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	transferTypeHash := crypto.Keccak256([]byte("Transfer(address to,uint256 amount)"))
	leg := func(to common.Address, amount int64) []byte {
		return crypto.Keccak256(transferTypeHash, padAddress(to), padInt(amount))
	}
	transfersHash := crypto.Keccak256(leg(testAlice, 600000), leg(testBob, 390000))

	typeHash := crypto.Keccak256([]byte(
		"BulkPermit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline,Transfer[] transfers)" +
			"Transfer(address to,uint256 amount)"))
	structHash := crypto.Keccak256(
		typeHash,
		padAddress(testOwner),
		padAddress(testSpender),
		padInt(1000000),
		padInt(0),
		padInt(1900000000),
		transfersHash,
	)
	want := crypto.Keccak256([]byte{0x19, 0x01}, manualDomainSeparator(domain), structHash)
	if !bytes.Equal(got, want) {
		t.Errorf("digest mismatch:\n got  %x\n want %x", got, want)
	}

	// reordering recipients changes the digest
	params.Transfers[0], params.Transfers[1] = params.Transfers[1], params.Transfers[0]
	swapped, err := BuildBulkPermitMessage(params).Hash()
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if bytes.Equal(got, swapped) {
		t.Error("recipient order must be bound into the digest")
	}
}

func TestBuildPermitMessageIsDeterministic(t *testing.T) {
	params := PermitMessageParams{
		Domain:   testDomain(),
		Owner:    testOwner,
		Spender:  testSpender,
		Value:    big.NewInt(5),
		Nonce:    big.NewInt(1),
		Deadline: big.NewInt(10),
	}
	a, errA := BuildPermitMessage(params).Hash()
	b, errB := BuildPermitMessage(params).Hash()
	if errA != nil || errB != nil {
		t.Fatalf("hash failed: %v %v", errA, errB)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical inputs produced different digests")
	}

	// builder copies its inputs
	msg := BuildPermitMessage(params)
	params.Value.SetInt64(999)
	if msg.Message.Value.Int64() != 5 {
		t.Error("message aliases caller's value")
	}
}

func TestDomainMismatchRecoversDifferentSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	params := PermitMessageParams{
		Domain:   testDomain(),
		Owner:    owner,
		Spender:  testSpender,
		Value:    big.NewInt(1000000),
		Nonce:    big.NewInt(0),
		Deadline: big.NewInt(1900000000),
	}
	digest, err := BuildPermitMessage(params).Hash()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := SplitSignature(raw)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := VerifySigner(BuildPermitMessage(params), sig, owner)
	if err != nil || !ok {
		t.Fatalf("expected signature to verify against the signed domain: %v", err)
	}

	// a relayer assuming the wrong token version recovers some other address
	params.Domain.Version = "1"
	ok, err = VerifySigner(BuildPermitMessage(params), sig, owner)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("signature must not verify under a different domain version")
	}
}

func TestTypedMessageMarshalJSON(t *testing.T) {
	msg := BuildBulkPermitMessage(BulkPermitMessageParams{
		Domain:    testDomain(),
		Owner:     testOwner,
		Spender:   testSpender,
		Value:     big.NewInt(1000000),
		Nonce:     big.NewInt(7),
		Deadline:  big.NewInt(1900000000),
		Transfers: []Transfer{{To: testAlice, Amount: big.NewInt(1000000)}},
	})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded struct {
		PrimaryType string `json:"primaryType"`
		Domain      struct {
			ChainID           string `json:"chainId"`
			VerifyingContract string `json:"verifyingContract"`
		} `json:"domain"`
		Message struct {
			Value     string `json:"value"`
			Nonce     string `json:"nonce"`
			Transfers []struct {
				To     string `json:"to"`
				Amount string `json:"amount"`
			} `json:"transfers"`
		} `json:"message"`
		Types map[string][]TypedDataField `json:"types"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.PrimaryType != PrimaryTypeBulkPermit {
		t.Errorf("primaryType = %s", decoded.PrimaryType)
	}
	if decoded.Domain.ChainID != "84532" {
		t.Errorf("chainId = %s", decoded.Domain.ChainID)
	}
	if decoded.Domain.VerifyingContract != testToken.Hex() {
		t.Errorf("verifyingContract = %s", decoded.Domain.VerifyingContract)
	}
	if decoded.Message.Value != "1000000" || decoded.Message.Nonce != "7" {
		t.Errorf("unexpected integers: %+v", decoded.Message)
	}
	if len(decoded.Message.Transfers) != 1 || decoded.Message.Transfers[0].Amount != "1000000" {
		t.Errorf("unexpected transfers: %+v", decoded.Message.Transfers)
	}
	if _, ok := decoded.Types["Transfer"]; !ok {
		t.Error("Transfer type missing from types")
	}
}
