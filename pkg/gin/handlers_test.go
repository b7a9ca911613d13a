package gin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/extensions/replay"
	"github.com/coinbase/permitrelay/mechanisms/evm"
	"github.com/coinbase/permitrelay/mechanisms/evm/permit"
	"github.com/coinbase/permitrelay/mechanisms/evm/transfer"
	"github.com/coinbase/permitrelay/pkg/tokenmetadata"
	evmsigners "github.com/coinbase/permitrelay/signers/evm"
	"github.com/coinbase/permitrelay/test/mocks/ledger"
)

var (
	testSpender     = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	testBeneficiary = common.HexToAddress("0x00000000000000000000000000000000000000BB")
	testAlice       = common.HexToAddress("0x0000000000000000000000000000000000000A11")
	testBob         = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRelayer struct {
	err      error
	result   *permitrelay.TransferResult
	lastReq  permitrelay.Request
	metadata map[string]interface{}
}

func (s *stubRelayer) Execute(ctx context.Context, req permitrelay.Request, metadata map[string]interface{}) (*permitrelay.TransferResult, error) {
	s.lastReq = req
	s.metadata = metadata
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubRelayer) IsPermitUsed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error) {
	return fp[0] == 0x01, nil
}

func (s *stubRelayer) ComputeFingerprint(ctx context.Context, req permitrelay.Request) (permitrelay.Fingerprint, error) {
	return evm.ComputeFingerprint(req, evm.FingerprintModeSignature, nil)
}

func singleBody() map[string]interface{} {
	return map[string]interface{}{
		"owner":     "0x0000000000000000000000000000000000000001",
		"spender":   testSpender.Hex(),
		"recipient": testAlice.Hex(),
		"value":     "1000000",
		"deadline":  "1900000000",
		"signature": "0x" + strings.Repeat("11", 64) + "1b",
		"fee":       "10000",
	}
}

func post(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func newRouter(relayer Relayer, opts ...Options) *gin.Engine {
	router := gin.New()
	Register(router, relayer, opts...)
	return router
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{permitrelay.NewRelayError(permitrelay.ErrCodeZeroAmount, ""), http.StatusBadRequest},
		{permitrelay.NewRelayError(permitrelay.ErrCodeInvalidFeeAmount, ""), http.StatusBadRequest},
		{permitrelay.NewRelayError(permitrelay.ErrCodePermitAlreadyUsed, ""), http.StatusConflict},
		{permitrelay.NewRelayError(permitrelay.ErrCodePermitExpired, ""), http.StatusGone},
		{permitrelay.NewRelayError(permitrelay.ErrCodeInsufficientBalance, ""), http.StatusPaymentRequired},
		{permitrelay.NewRelayError(permitrelay.ErrCodeInvalidPermitSignature, ""), http.StatusUnprocessableEntity},
		{permitrelay.NewRelayError(permitrelay.ErrCodeLedgerSubmissionFailed, ""), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			router := newRouter(&stubRelayer{err: tt.err})
			w := post(t, router, "/v1/transfers", singleBody())
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	router := newRouter(&stubRelayer{err: context.DeadlineExceeded})
	w := post(t, router, "/v1/transfers", singleBody())

	if strings.Contains(w.Body.String(), "deadline exceeded") {
		t.Errorf("internal error leaked: %s", w.Body.String())
	}
}

func TestLedgerFailuresDoNotLeakEndpoint(t *testing.T) {
	cause := &url.Error{
		Op:  "Post",
		URL: "https://base-mainnet.g.alchemy.com/v2/SECRET_API_KEY",
		Err: errors.New("dial tcp: connection refused"),
	}
	router := newRouter(&stubRelayer{err: permitrelay.TranslateLedgerError(cause)})
	w := post(t, router, "/v1/transfers", singleBody())

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if strings.Contains(w.Body.String(), "SECRET_API_KEY") || strings.Contains(w.Body.String(), "alchemy.com") {
		t.Errorf("RPC endpoint leaked: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), permitrelay.ErrCodeLedgerSubmissionFailed) {
		t.Errorf("body missing error code: %s", w.Body.String())
	}
}

func TestSchemaValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
		path   string
	}{
		{"missing owner", func(b map[string]interface{}) { delete(b, "owner") }, "/v1/transfers"},
		{"bad address", func(b map[string]interface{}) { b["recipient"] = "0x1234" }, "/v1/transfers"},
		{"decimal point amount", func(b map[string]interface{}) { b["value"] = "1.5" }, "/v1/transfers"},
		{"numeric amount", func(b map[string]interface{}) { b["value"] = 1000000 }, "/v1/transfers"},
		{"short signature", func(b map[string]interface{}) { b["signature"] = "0x1234" }, "/v1/transfers"},
		{"unknown field", func(b map[string]interface{}) { b["memo"] = "hi" }, "/v1/transfers"},
		{"single body on bulk route", func(b map[string]interface{}) {}, "/v1/transfers/bulk"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubRelayer{}
			body := singleBody()
			tt.mutate(body)

			w := post(t, newRouter(stub), tt.path, body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", w.Code, w.Body.String())
			}
			if stub.lastReq != nil {
				t.Error("relayer should not be called")
			}
		})
	}
}

func TestMalformedSignatureRecoveryID(t *testing.T) {
	body := singleBody()
	body["signature"] = "0x" + strings.Repeat("11", 64) + "05"

	w := post(t, newRouter(&stubRelayer{}), "/v1/transfers", body)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), permitrelay.ErrCodeMalformedSignature) {
		t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestRequestConversion(t *testing.T) {
	stub := &stubRelayer{err: permitrelay.ErrPermitExpired}
	w := post(t, newRouter(stub), "/v1/transfers", singleBody())
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}

	req, ok := stub.lastReq.(*permitrelay.PermitRequest)
	if !ok {
		t.Fatalf("expected single request, got %T", stub.lastReq)
	}
	if req.Value.Int64() != 1000000 || req.Fee.Int64() != 10000 || req.Recipient != testAlice {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Signature.V != 27 {
		t.Errorf("v = %d", req.Signature.V)
	}
	if stub.metadata["requestId"] != w.Header().Get(RequestIDHeader) {
		t.Error("request id should be passed to hooks")
	}
}

func TestPermitStatus(t *testing.T) {
	router := newRouter(&stubRelayer{})

	used := "0x01" + strings.Repeat("00", 31)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/permits/"+used, nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"used":true`) {
		t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/permits/0xzz", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	router := newRouter(&stubRelayer{}, WithRateLimit(0.001, 2))

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/permits/0x"+strings.Repeat("00", 32), nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status codes %v", codes)
	}
}

func TestEndToEnd(t *testing.T) {
	holder, err := evmsigners.GenerateClientSigner()
	if err != nil {
		t.Fatal(err)
	}
	l := ledger.New()
	l.SetBalance(holder.Address(), big.NewInt(5000000))
	registry := replay.NewRegistry()
	relayer := permitrelay.NewRelayer(
		permit.NewValidator(l, registry, permit.WithFeeBeneficiary(testBeneficiary)),
		transfer.NewExecutor(l, registry, testBeneficiary),
	)
	router := newRouter(relayer, WithTokenMetadata(tokenmetadata.NewResolver(l, tokenmetadata.Config{})))

	// holders discover the domain first
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/token", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"name":"USD Coin"`) {
		t.Fatalf("unexpected token response %d %s", w.Code, w.Body.String())
	}

	deadline := big.NewInt(time.Now().Add(time.Hour).Unix())
	transfers := []evm.Transfer{
		{To: testAlice, Amount: big.NewInt(600000)},
		{To: testBob, Amount: big.NewInt(390000)},
	}
	sig, err := holder.SignPermit(context.Background(), evm.BuildBulkPermitMessage(evm.BulkPermitMessageParams{
		Domain:    l.Domain(),
		Owner:     holder.Address(),
		Spender:   testSpender,
		Value:     big.NewInt(1000000),
		Nonce:     big.NewInt(0),
		Deadline:  deadline,
		Transfers: transfers,
	}))
	if err != nil {
		t.Fatal(err)
	}

	body := map[string]interface{}{
		"owner":   holder.Address().Hex(),
		"spender": testSpender.Hex(),
		"recipients": []map[string]string{
			{"to": testAlice.Hex(), "amount": "600000"},
			{"to": testBob.Hex(), "amount": "390000"},
		},
		"value":     "1000000",
		"deadline":  deadline.String(),
		"signature": sig.Hex(),
		"fee":       "10000",
	}

	w = post(t, router, "/v1/fingerprints", body)
	if w.Code != http.StatusOK {
		t.Fatalf("fingerprint status = %d (%s)", w.Code, w.Body.String())
	}
	var fpResp struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &fpResp); err != nil {
		t.Fatal(err)
	}

	w = post(t, router, "/v1/transfers/bulk", body)
	if w.Code != http.StatusOK {
		t.Fatalf("transfer status = %d (%s)", w.Code, w.Body.String())
	}
	var resp transferResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "confirmed" || resp.RecipientCount != 2 || resp.TotalPaidOut != "990000" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Fingerprint != fpResp.Fingerprint {
		t.Errorf("fingerprint %s != precomputed %s", resp.Fingerprint, fpResp.Fingerprint)
	}
	if l.Balance(testBob).Int64() != 390000 {
		t.Errorf("bob balance = %s", l.Balance(testBob))
	}

	w = post(t, router, "/v1/transfers/bulk", body)
	if w.Code != http.StatusConflict {
		t.Errorf("replay status = %d, want 409", w.Code)
	}
}
