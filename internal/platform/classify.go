package platform

import (
	"encoding/json"
	"net/http"

	"github.com/maheshrc27/postflow/internal/apperr"
)

// graphError mirrors the graph API's {"error": {...}} envelope closely
// enough to tell a revoked token from a transient upstream failure.
type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

// terminalCodes are graph API error codes that will never succeed on
// retry: expired/invalid token, permission revoked, media fetch
// permanently failed, content policy rejection.
var terminalCodes = map[int]bool{
	190: true, // OAuthException: token invalid/expired
	10:  true, // permission denied
	100: true, // invalid parameter (bad media, unsupported content)
	200: true, // permissions error
}

// Classify turns a transport error or a non-2xx graph API response into
// the apperr taxonomy of spec.md §7. A nil transport err with a non-2xx
// status/body pair is classified from the body; a non-nil transport err
// (timeout, connection refused) is always Transient.
func Classify(transportErr error, status int, body []byte) error {
	if transportErr != nil {
		return apperr.Wrap(apperr.Transient, "platform request failed", transportErr)
	}

	if status == http.StatusTooManyRequests {
		return apperr.RateLimitedErr(0)
	}

	var ge graphError
	_ = json.Unmarshal(body, &ge)

	if terminalCodes[ge.Error.Code] {
		msg := ge.Error.Message
		if msg == "" {
			msg = "platform rejected request"
		}
		return apperr.New(apperr.Terminal, msg)
	}

	if status >= 500 {
		return apperr.New(apperr.Transient, "platform server error")
	}
	if status >= 400 {
		msg := ge.Error.Message
		if msg == "" {
			msg = "platform request rejected"
		}
		return apperr.New(apperr.Transient, msg)
	}
	return apperr.New(apperr.Transient, "unexpected platform response")
}
