package http

import (
	"errors"
	"fmt"
	"net/http"

	"quotasigner/internal/domain"
	"quotasigner/internal/usecase"

	"github.com/gin-gonic/gin"
)

const (
	endpointPnpQuota      = "/pnp/quota"
	endpointPnpSign       = "/pnp/sign"
	endpointDomainQuota   = "/domain/quota"
	endpointDomainSign    = "/domain/sign"
	endpointDomainDisable = "/domain/disable"
)

// endpointIO parses one endpoint's request and renders its success payload.
// Parse performs structural checks only.
type endpointIO[Req any] interface {
	Enabled() bool
	Parse(c *gin.Context) (Req, error)
	Success(c *gin.Context, res usecase.Result)
}

var errBodyTooLarge = errors.New("request body too large")

func bindJSON(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: %w", domain.ErrValidation, errBodyTooLarge)
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

type quotaPayload struct {
	PerformedQueryCount *int64 `json:"performedQueryCount,omitempty"`
	TotalQuota          *int64 `json:"totalQuota,omitempty"`
}

func quotaFields(status *domain.QuotaStatus) quotaPayload {
	if status == nil {
		return quotaPayload{}
	}
	performed, total := status.PerformedQueryCount, status.TotalQuota
	return quotaPayload{PerformedQueryCount: &performed, TotalQuota: &total}
}

type pnpQuotaInput struct {
	Account string `json:"account" binding:"required"`
}

// quotaResponse is the success body of both quota endpoints. A disabled
// domain is reported as a DOMAIN_DISABLED error instead.
type quotaResponse struct {
	Success  bool `json:"success"`
	Degraded bool `json:"degraded,omitempty"`
	quotaPayload
}

type pnpQuotaIO struct {
	enabled bool
}

func (io pnpQuotaIO) Enabled() bool { return io.enabled }

func (io pnpQuotaIO) Parse(c *gin.Context) (usecase.PnpQuotaRequest, error) {
	var in pnpQuotaInput
	if err := bindJSON(c, &in); err != nil {
		return usecase.PnpQuotaRequest{}, err
	}
	return usecase.PnpQuotaRequest{Account: in.Account}, nil
}

func (io pnpQuotaIO) Success(c *gin.Context, res usecase.Result) {
	c.JSON(http.StatusOK, quotaResponse{
		Success:      true,
		Degraded:     res.Outcome == usecase.OutcomeDegraded,
		quotaPayload: quotaFields(res.Status),
	})
}

// blindedMessage is standard base64 in JSON.
type pnpSignInput struct {
	Account        string `json:"account" binding:"required"`
	BlindedMessage []byte `json:"blindedMessage" binding:"required"`
	KeyVersion     int    `json:"keyVersion"`
}

type signResponse struct {
	Success    bool   `json:"success"`
	Degraded   bool   `json:"degraded,omitempty"`
	Signature  []byte `json:"signature"`
	KeyVersion int    `json:"keyVersion"`
	quotaPayload
}

func signFields(res usecase.Result) signResponse {
	out := signResponse{
		Success:      true,
		Degraded:     res.Outcome == usecase.OutcomeDegraded,
		quotaPayload: quotaFields(res.Status),
	}
	if res.Signature != nil {
		out.Signature = res.Signature.Signature
		out.KeyVersion = res.Signature.KeyVersion
	}
	return out
}

type pnpSignIO struct {
	enabled bool
}

func (io pnpSignIO) Enabled() bool { return io.enabled }

func (io pnpSignIO) Parse(c *gin.Context) (usecase.PnpSignRequest, error) {
	var in pnpSignInput
	if err := bindJSON(c, &in); err != nil {
		return usecase.PnpSignRequest{}, err
	}
	return usecase.PnpSignRequest{
		Account:        in.Account,
		BlindedMessage: in.BlindedMessage,
		KeyVersion:     in.KeyVersion,
	}, nil
}

func (io pnpSignIO) Success(c *gin.Context, res usecase.Result) {
	c.JSON(http.StatusOK, signFields(res))
}

type domainInput struct {
	Domain *domain.DomainDescriptor `json:"domain" binding:"required"`
}

func (in domainInput) parse() (domain.DomainDescriptor, domain.Identifier, error) {
	if in.Domain == nil {
		return domain.DomainDescriptor{}, "", fmt.Errorf("%w: domain is required", domain.ErrValidation)
	}
	id, err := in.Domain.Identifier()
	if err != nil {
		return domain.DomainDescriptor{}, "", err
	}
	return *in.Domain, id, nil
}

type disableResponse struct {
	Success  bool `json:"success"`
	Disabled bool `json:"disabled"`
}

type domainQuotaIO struct {
	enabled bool
}

func (io domainQuotaIO) Enabled() bool { return io.enabled }

func (io domainQuotaIO) Parse(c *gin.Context) (usecase.DomainQuotaRequest, error) {
	var in domainInput
	if err := bindJSON(c, &in); err != nil {
		return usecase.DomainQuotaRequest{}, err
	}
	d, id, err := in.parse()
	if err != nil {
		return usecase.DomainQuotaRequest{}, err
	}
	return usecase.DomainQuotaRequest{Domain: d, ID: id}, nil
}

func (io domainQuotaIO) Success(c *gin.Context, res usecase.Result) {
	c.JSON(http.StatusOK, quotaResponse{
		Success:      true,
		Degraded:     res.Outcome == usecase.OutcomeDegraded,
		quotaPayload: quotaFields(res.Status),
	})
}

type domainSignInput struct {
	domainInput
	BlindedMessage []byte `json:"blindedMessage" binding:"required"`
	KeyVersion     int    `json:"keyVersion"`
	Nonce          *int64 `json:"nonce"`
}

type domainSignIO struct {
	enabled bool
}

func (io domainSignIO) Enabled() bool { return io.enabled }

func (io domainSignIO) Parse(c *gin.Context) (usecase.DomainSignRequest, error) {
	var in domainSignInput
	if err := bindJSON(c, &in); err != nil {
		return usecase.DomainSignRequest{}, err
	}
	d, id, err := in.parse()
	if err != nil {
		return usecase.DomainSignRequest{}, err
	}
	return usecase.DomainSignRequest{
		Domain:         d,
		ID:             id,
		BlindedMessage: in.BlindedMessage,
		KeyVersion:     in.KeyVersion,
		Nonce:          in.Nonce,
	}, nil
}

func (io domainSignIO) Success(c *gin.Context, res usecase.Result) {
	c.JSON(http.StatusOK, signFields(res))
}

type domainDisableIO struct {
	enabled bool
}

func (io domainDisableIO) Enabled() bool { return io.enabled }

func (io domainDisableIO) Parse(c *gin.Context) (usecase.DomainDisableRequest, error) {
	var in domainInput
	if err := bindJSON(c, &in); err != nil {
		return usecase.DomainDisableRequest{}, err
	}
	d, id, err := in.parse()
	if err != nil {
		return usecase.DomainDisableRequest{}, err
	}
	return usecase.DomainDisableRequest{Domain: d, ID: id}, nil
}

func (io domainDisableIO) Success(c *gin.Context, res usecase.Result) {
	c.JSON(http.StatusOK, disableResponse{Success: true, Disabled: true})
}
