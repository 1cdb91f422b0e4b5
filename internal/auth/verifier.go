// Package auth provides bearer token verification for the solver API.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNoToken      = errors.New("auth: missing token")
	ErrBadToken     = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token expired")
)

// Roles. Viewers may read runs; solvers may also submit and cancel them.
const (
	RoleViewer = "viewer"
	RoleSolver = "solver"
	RoleAdmin  = "admin"
)

// Verifier validates tokens and extracts the caller's identity.
// Supports modes: off (everyone is an anonymous admin), dev (token is
// "subject:role", unverified), hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	HMACSecret []byte
	RoleClaim  string
	now        func() time.Time
}

type Principal struct {
	Subject string
	Role    string
}

// CanSolve reports whether the principal may start or cancel runs.
func (p Principal) CanSolve() bool { return p.Role == RoleSolver || p.Role == RoleAdmin }

func NewVerifier(mode, secret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "off"
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret), RoleClaim: "role", now: time.Now}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case "off":
		return Principal{Subject: "anonymous", Role: RoleAdmin}, nil
	case "dev":
		// token format: subject:role
		sub, role, ok := strings.Cut(token, ":")
		if !ok || sub == "" || role == "" {
			return Principal{}, errors.New("invalid dev token; expected subject:role")
		}
		return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
	case "hmac":
		return v.verifyHS256(token)
	default:
		return Principal{}, errors.New("unsupported auth mode")
	}
}

func (v *Verifier) verifyHS256(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrNoToken
	}
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, ErrBadToken
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, ErrBadToken
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, ErrBadToken
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, ErrBadToken
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil || hdr.Alg != "HS256" {
		return Principal{}, ErrBadToken
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, ErrBadToken
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, ErrBadToken
	}
	if exp, ok := claims["exp"].(float64); ok && v.now().Unix() >= int64(exp) {
		return Principal{}, ErrExpiredToken
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims[v.RoleClaim].(string)
	if sub == "" {
		return Principal{}, errors.New("auth: missing sub claim")
	}
	if role == "" {
		role = RoleViewer
	}
	return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
}

// SignHS256 issues a token the hmac mode accepts. ttl <= 0 omits exp.
func SignHS256(secret []byte, subject, role string, ttl time.Duration) (string, error) {
	claims := map[string]any{"sub": subject, "role": role, "iat": time.Now().Unix()}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	head := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(head + "." + body))
	return head + "." + body + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
