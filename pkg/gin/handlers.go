package gin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	permitrelay "github.com/coinbase/permitrelay"
	"github.com/coinbase/permitrelay/pkg/tokenmetadata"
)

// maxBodyBytes bounds request bodies; a full bulk request is far smaller
const maxBodyBytes = 1 << 20

// RequestIDHeader carries the id assigned to every relayed request
const RequestIDHeader = "X-Request-Id"

// Relayer is the subset of *permitrelay.Relayer the HTTP adapter needs
type Relayer interface {
	Execute(ctx context.Context, req permitrelay.Request, metadata map[string]interface{}) (*permitrelay.TransferResult, error)
	IsPermitUsed(ctx context.Context, fp permitrelay.Fingerprint) (bool, error)
	ComputeFingerprint(ctx context.Context, req permitrelay.Request) (permitrelay.Fingerprint, error)
}

// MetadataSource serves the token domain holders sign under
type MetadataSource interface {
	GetMetadata(ctx context.Context) (*tokenmetadata.TokenMetadata, error)
}

// HandlerOptions is the options for Register.
type HandlerOptions struct {
	RateLimit float64
	RateBurst int
	Logger    *zap.Logger
	Metadata  MetadataSource
}

// Options is the type for the options for Register.
type Options func(*HandlerOptions)

// WithRateLimit limits each client IP to rps requests per second with the
// given burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Options {
	return func(options *HandlerOptions) {
		options.RateLimit = rps
		options.RateBurst = burst
	}
}

// WithLogger is an option for Register to set the logger.
func WithLogger(logger *zap.Logger) Options {
	return func(options *HandlerOptions) {
		options.Logger = logger
	}
}

// WithTokenMetadata exposes GET /v1/token backed by source.
func WithTokenMetadata(source MetadataSource) Options {
	return func(options *HandlerOptions) {
		options.Metadata = source
	}
}

type handler struct {
	relayer  Relayer
	metadata MetadataSource
	logger   *zap.Logger
}

// Register mounts the relayer endpoints on router:
//
//	POST /v1/transfers               single transfer
//	POST /v1/transfers/bulk          bulk transfer
//	POST /v1/fingerprints            fingerprint of a request body
//	GET  /v1/permits/:fingerprint    {"used": bool}
//	GET  /v1/token                   token domain (with WithTokenMetadata)
func Register(router gin.IRouter, relayer Relayer, opts ...Options) {
	options := &HandlerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	h := &handler{
		relayer:  relayer,
		metadata: options.Metadata,
		logger:   options.Logger,
	}

	v1 := router.Group("/v1")
	if options.RateLimit > 0 {
		v1.Use(RateLimitMiddleware(options.RateLimit, options.RateBurst))
	}
	v1.POST("/transfers", h.executeSingle)
	v1.POST("/transfers/bulk", h.executeBulk)
	v1.POST("/fingerprints", h.computeFingerprint)
	v1.GET("/permits/:fingerprint", h.permitStatus)
	if h.metadata != nil {
		v1.GET("/token", h.token)
	}
}

func (h *handler) executeSingle(c *gin.Context) {
	body, ok := h.readBody(c, singleTransferSchema)
	if !ok {
		return
	}
	req, err := body.toSingle()
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.execute(c, req)
}

func (h *handler) executeBulk(c *gin.Context) {
	body, ok := h.readBody(c, bulkTransferSchema)
	if !ok {
		return
	}
	req, err := body.toBulk()
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.execute(c, req)
}

func (h *handler) execute(c *gin.Context, req permitrelay.Request) {
	requestID := uuid.NewString()
	c.Header(RequestIDHeader, requestID)

	result, err := h.relayer.Execute(c.Request.Context(), req, map[string]interface{}{
		"requestId": requestID,
		"clientIp":  c.ClientIP(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTransferResponse(result))
}

func (h *handler) computeFingerprint(c *gin.Context) {
	raw, ok := h.readRaw(c)
	if !ok {
		return
	}
	var body transferBody
	if err := json.Unmarshal(raw, &body); err != nil {
		h.writeBadRequest(c, "invalid JSON body")
		return
	}
	schema := singleTransferSchema
	if body.Recipients != nil {
		schema = bulkTransferSchema
	}
	if err := validateBody(schema, raw); err != nil {
		h.writeBadRequest(c, err.Error())
		return
	}

	req, err := body.toRequest()
	if err != nil {
		h.writeError(c, err)
		return
	}
	fp, err := h.relayer.ComputeFingerprint(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fingerprint": fp.Hex()})
}

func (h *handler) permitStatus(c *gin.Context) {
	fp, err := permitrelay.ParseFingerprint(c.Param("fingerprint"))
	if err != nil {
		h.writeBadRequest(c, err.Error())
		return
	}
	used, err := h.relayer.IsPermitUsed(c.Request.Context(), fp)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fingerprint": fp.Hex(), "used": used})
}

func (h *handler) token(c *gin.Context) {
	metadata, err := h.metadata.GetMetadata(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chainId":         metadata.ChainID.String(),
		"tokenAddress":    metadata.Token.Hex(),
		"name":            metadata.Name,
		"version":         metadata.Version,
		"decimals":        metadata.Decimals,
		"nameFallback":    metadata.NameFallback,
		"versionFallback": metadata.VersionFallback,
	})
}

func (h *handler) readRaw(c *gin.Context) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		h.writeBadRequest(c, "failed to read body")
		return nil, false
	}
	if len(raw) > maxBodyBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorResponse{
			Error: permitrelay.NewRelayError("request_too_large", "request body too large"),
		})
		return nil, false
	}
	return raw, true
}

func (h *handler) readBody(c *gin.Context, schema *gojsonschema.Schema) (*transferBody, bool) {
	raw, ok := h.readRaw(c)
	if !ok {
		return nil, false
	}
	if err := validateBody(schema, raw); err != nil {
		h.writeBadRequest(c, err.Error())
		return nil, false
	}
	var body transferBody
	if err := json.Unmarshal(raw, &body); err != nil {
		h.writeBadRequest(c, "invalid JSON body")
		return nil, false
	}
	return &body, true
}

func (h *handler) writeBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
		Error: permitrelay.NewRelayError("invalid_request", message),
	})
}

func (h *handler) writeError(c *gin.Context, err error) {
	var relayErr *permitrelay.RelayError
	if !errors.As(err, &relayErr) {
		h.logger.Sugar().Errorw("Relay request failed", "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
			Error: permitrelay.NewRelayError("internal_error", "internal error"),
		})
		return
	}
	c.AbortWithStatusJSON(StatusForCode(relayErr.Code), errorResponse{Error: relayErr})
}

// StatusForCode maps a relay error code onto an HTTP status
func StatusForCode(code string) int {
	switch code {
	case permitrelay.ErrCodeMalformedAmount,
		permitrelay.ErrCodeMalformedSignature,
		permitrelay.ErrCodeInvalidRecipient,
		permitrelay.ErrCodeZeroAmount,
		permitrelay.ErrCodeInvalidFeeAmount,
		permitrelay.ErrCodeBatchTooLarge:
		return http.StatusBadRequest
	case permitrelay.ErrCodePermitAlreadyUsed:
		return http.StatusConflict
	case permitrelay.ErrCodePermitExpired:
		return http.StatusGone
	case permitrelay.ErrCodeInsufficientBalance:
		return http.StatusPaymentRequired
	case permitrelay.ErrCodeInvalidPermitSignature:
		return http.StatusUnprocessableEntity
	case permitrelay.ErrCodeLedgerSubmissionFailed:
		return http.StatusBadGateway
	case permitrelay.ErrCodeAborted:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
