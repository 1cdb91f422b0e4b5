package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Header names set on every delivery.
const (
	HeaderSignature = "X-Towerplan-Signature"
	HeaderEventType = "X-Towerplan-Event"
)

var (
	ErrBadSignature   = errors.New("webhooks: signature mismatch")
	ErrStaleSignature = errors.New("webhooks: signature timestamp outside tolerance")
)

// SignHMAC returns lowercase hex of HMAC-SHA256 over "<unix>.<body>".
func SignHMAC(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders the signature header value "t=<unix>,v1=<hex>".
func SignatureHeader(secret string, at time.Time, body []byte) string {
	ts := at.Unix()
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + SignHMAC(secret, ts, body)
}

// VerifyHMAC checks a signature header against the raw body. Receivers pass
// their clock and the largest clock skew they accept; tolerance <= 0 skips
// the timestamp check.
func VerifyHMAC(secret string, body []byte, header string, now time.Time, tolerance time.Duration) error {
	var (
		ts  int64
		sig []byte
		err error
	)
	for _, part := range strings.Split(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			if ts, err = strconv.ParseInt(v, 10, 64); err != nil {
				return ErrBadSignature
			}
		case "v1":
			if sig, err = hex.DecodeString(v); err != nil {
				return ErrBadSignature
			}
		}
	}
	if ts == 0 || sig == nil {
		return ErrBadSignature
	}
	expected, _ := hex.DecodeString(SignHMAC(secret, ts, body))
	if !hmac.Equal(expected, sig) {
		return ErrBadSignature
	}
	if tolerance > 0 {
		if d := now.Sub(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
			return ErrStaleSignature
		}
	}
	return nil
}
