package permitrelay_test

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	permitrelay "github.com/coinbase/permitrelay"
)

const rpcSecret = "SECRET_API_KEY"

func rpcFailure() error {
	return &url.Error{
		Op:  "Post",
		URL: "https://base-mainnet.g.alchemy.com/v2/" + rpcSecret,
		Err: errors.New("dial tcp: connection refused"),
	}
}

func TestTranslateLedgerError(t *testing.T) {
	t.Run("transport failures hide the endpoint", func(t *testing.T) {
		for _, cause := range []error{
			rpcFailure(),
			permitrelay.NewTransportFailure(rpcFailure()),
		} {
			relayErr := permitrelay.TranslateLedgerError(cause)

			assert.Equal(t, permitrelay.ErrCodeLedgerSubmissionFailed, relayErr.Code)
			assert.NotContains(t, relayErr.Message, rpcSecret)
			assert.NotContains(t, relayErr.Error(), rpcSecret)
			assert.NotContains(t, relayErr.Error(), "alchemy.com")
		}
	})

	t.Run("signature rejections map to invalid_permit_signature", func(t *testing.T) {
		relayErr := permitrelay.TranslateLedgerError(permitrelay.NewSignatureRejected(rpcFailure()))

		assert.ErrorIs(t, relayErr, permitrelay.ErrInvalidPermitSignature)
		assert.NotContains(t, relayErr.Error(), rpcSecret)
	})
}
