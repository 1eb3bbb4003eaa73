package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"quotasigner/internal/domain"
	"quotasigner/internal/infra/metrics"
	"quotasigner/internal/usecase"

	"github.com/gin-gonic/gin"
)

// controller drives one endpoint: enabled check, parse, validate, perform,
// respond. It holds no per-request state.
type controller[Req any] struct {
	endpoint string
	io       endpointIO[Req]
	action   usecase.Action[Req]
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func (ctl *controller[Req]) handle(c *gin.Context) {
	logger := requestLogger(c, ctl.logger).With("endpoint", ctl.endpoint)

	if ctl.action == nil || !ctl.io.Enabled() {
		ctl.observe("endpoint_disabled")
		writeError(c, domain.ErrEndpointDisabled)
		return
	}
	req, err := ctl.io.Parse(c)
	if err != nil {
		ctl.observe("invalid")
		writeError(c, err)
		return
	}
	if err := ctl.action.Validate(req); err != nil {
		ctl.observe("invalid")
		writeError(c, err)
		return
	}

	res := ctl.action.Perform(context.WithoutCancel(c.Request.Context()), req)
	ctl.observe(string(res.Outcome))
	ctl.observeSignature(res)
	if c.Request.Context().Err() != nil {
		logger.Info("client went away, discarding result", "outcome", res.Outcome)
		return
	}
	if res.Err != nil && !res.Success() {
		logger.Info("request rejected", "outcome", res.Outcome, "reason", res.Reason, "err", res.Err)
	}
	ctl.respond(c, res)
}

func (ctl *controller[Req]) respond(c *gin.Context, res usecase.Result) {
	switch res.Outcome {
	case usecase.OutcomeAuthorized, usecase.OutcomeDisableRecorded:
		ctl.io.Success(c, res)
	case usecase.OutcomeDegraded:
		ctl.metrics.ObserveDegraded(ctl.endpoint)
		ctl.io.Success(c, res)
	case usecase.OutcomeUnauthorized:
		writeUnauthorized(c, res)
	case usecase.OutcomeDisabled:
		writeDisabled(c, res)
	case usecase.OutcomeSignFailed:
		writeErrorCode(c, http.StatusInternalServerError, "SIGNATURE_FAILED", "signature computation failed")
	case usecase.OutcomeUnavailable:
		writeErrorCode(c, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", "ledger unavailable")
	default:
		requestLogger(c, ctl.logger).Error("internal error", "endpoint", ctl.endpoint, "err", res.Err)
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func (ctl *controller[Req]) observe(outcome string) {
	ctl.metrics.ObserveResponse(ctl.endpoint, outcome)
}

func (ctl *controller[Req]) observeSignature(res usecase.Result) {
	purpose := string(domain.KeyPurposeDomains)
	if strings.HasPrefix(ctl.endpoint, "/pnp/") {
		purpose = string(domain.KeyPurposePNP)
	}
	switch {
	case res.Signature != nil:
		ctl.metrics.ObserveSignature(purpose, "ok")
	case res.Outcome == usecase.OutcomeSignFailed:
		ctl.metrics.ObserveSignature(purpose, "error")
	}
}

type errorResponse struct {
	Success bool           `json:"success"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeUnauthorized(c *gin.Context, res usecase.Result) {
	code := "UNAUTHORIZED"
	switch res.Reason {
	case usecase.ReasonQuotaExceeded:
		code = "QUOTA_EXCEEDED"
	case usecase.ReasonNonceMismatch:
		code = "NONCE_MISMATCH"
	case usecase.ReasonNotRegistered:
		code = "NOT_REGISTERED"
	}
	message := res.Reason
	if message == "" {
		message = "unauthorized"
	}
	out := errorResponse{Code: code, Message: message}
	if res.Status != nil {
		out.Details = map[string]any{
			"performedQueryCount": res.Status.PerformedQueryCount,
			"totalQuota":          res.Status.TotalQuota,
		}
	}
	c.JSON(http.StatusForbidden, out)
}

// writeDisabled reports a disabled domain with its last known counters.
func writeDisabled(c *gin.Context, res usecase.Result) {
	details := map[string]any{"disabled": true}
	if res.Status != nil {
		details["performedQueryCount"] = res.Status.PerformedQueryCount
		details["totalQuota"] = res.Status.TotalQuota
	}
	c.JSON(http.StatusForbidden, errorResponse{
		Code:    "DOMAIN_DISABLED",
		Message: "domain disabled",
		Details: details,
	})
}

func writeError(c *gin.Context, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL", "internal error"
	switch {
	case errors.Is(err, errBodyTooLarge):
		status, code, message = http.StatusBadRequest, "REQUEST_TOO_LARGE", "request body too large"
	case errors.Is(err, domain.ErrValidation):
		status, code, message = http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	case errors.Is(err, domain.ErrEndpointDisabled):
		status, code, message = http.StatusServiceUnavailable, "ENDPOINT_DISABLED", "endpoint disabled"
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
