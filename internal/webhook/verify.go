package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"
)

// Signature headers
const (
	HeaderSignature256 = "X-Hub-Signature-256"
	HeaderSignature    = "X-Hub-Signature"
	HeaderToken        = "X-Neb-Token"
)

// Verification is the outcome of checking a caller: Verified, or rejected
// with a reason
type Verification struct {
	rejected bool
	reason   string
}

// Verified is the accepting outcome
var Verified = Verification{}

// Reject builds a rejecting outcome
func Reject(reason string) Verification {
	return Verification{rejected: true, reason: reason}
}

// OK reports whether the caller was accepted
func (v Verification) OK() bool {
	return !v.rejected
}

// Reason explains a rejection
func (v Verification) Reason() string {
	return v.reason
}

// Response is the 403 to send for a rejection, nil when verified
func (v Verification) Response() *Response {
	if v.OK() {
		return nil
	}
	return Status(http.StatusForbidden, v.reason)
}

// VerifyHMAC checks a hex HMAC signature of body in the "sha256=<hex>" or
// "sha1=<hex>" form. A bare hex value is taken as SHA-256.
func VerifyHMAC(secret, body []byte, signature string) Verification {
	if len(secret) == 0 {
		return Reject("no secret configured")
	}
	if signature == "" {
		return Reject("missing signature")
	}

	var newHash func() hash.Hash
	switch {
	case strings.HasPrefix(signature, "sha256="):
		newHash, signature = sha256.New, strings.TrimPrefix(signature, "sha256=")
	case strings.HasPrefix(signature, "sha1="):
		newHash, signature = sha1.New, strings.TrimPrefix(signature, "sha1=")
	default:
		newHash = sha256.New
	}

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return Reject("malformed signature")
	}

	mac := hmac.New(newHash, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return Reject("signature mismatch")
	}
	return Verified
}

// VerifyRequestHMAC picks the strongest signature header present on req
func VerifyRequestHMAC(secret []byte, req *Request) Verification {
	sig := req.Header.Get(HeaderSignature256)
	if sig == "" {
		sig = req.Header.Get(HeaderSignature)
	}
	return VerifyHMAC(secret, req.Body, sig)
}

// VerifyToken accepts a shared secret from an "Authorization: Bearer" header,
// the X-Neb-Token header or a ?token= query parameter
func VerifyToken(expected string, req *Request) Verification {
	if expected == "" {
		return Reject("no token configured")
	}

	var got string
	if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		got = strings.TrimPrefix(auth, "Bearer ")
	} else if tok := req.Header.Get(HeaderToken); tok != "" {
		got = tok
	} else if req.Query != nil {
		got = req.Query.Get("token")
	}

	if got == "" {
		return Reject("missing token")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return Reject("token mismatch")
	}
	return Verified
}
