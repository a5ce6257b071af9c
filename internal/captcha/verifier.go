// Package captcha validates challenge tokens against the provider's
// siteverify endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/util"
)

// Verifier checks captcha tokens. Fail closed: any transport or decode error
// counts as a failed challenge.
type Verifier struct {
	secret    string
	verifyURL string
	client    *http.Client
}

func NewVerifier(cfg *config.Config) *Verifier {
	return &Verifier{
		secret:    cfg.Captcha.Secret,
		verifyURL: cfg.Captcha.VerifyURL,
		client:    &http.Client{Timeout: cfg.Captcha.Timeout},
	}
}

// Enabled reports whether a secret is configured. Without one, tokens are not
// checked at all.
func (v *Verifier) Enabled() bool {
	return v.secret != ""
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify returns nil only when the provider confirms the token.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) error {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("captcha request build failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		util.Warn("Captcha verification unreachable", zap.Error(err))
		return fmt.Errorf("captcha verification failed: %w", err)
	}
	defer resp.Body.Close()

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("captcha verification failed: %w", err)
	}

	if !result.Success {
		util.Info("Captcha challenge rejected",
			zap.Strings("error_codes", result.ErrorCodes))
		return fmt.Errorf("captcha challenge rejected")
	}
	return nil
}
