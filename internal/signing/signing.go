// Package signing produces short-lived download links for binary handles. A
// signature covers the document id, the handle reference and the expiry, so a
// link stops working once its handle is revoked or re-minted.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrBadSignature is returned for tampered or malformed links.
	ErrBadSignature = errors.New("invalid signature")
	// ErrExpired is returned once a link is past its expiry.
	ErrExpired = errors.New("link expired")
)

// Query parameter names used by download links.
const (
	ParamID      = "id"
	ParamExpires = "expires"
	ParamSig     = "sig"
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature for inputs.
func (s *Signer) Sign(documentID, ref string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	// Length prefixes keep "a:b" + "c" distinct from "a" + "b:c".
	fmt.Fprintf(mac, "%d:%s:%d:%s:%d", len(documentID), documentID, len(ref), ref, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one. It does not
// look at the clock.
func (s *Signer) Validate(documentID, ref, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(documentID, ref, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Query builds the query string for a download link.
func (s *Signer) Query(documentID, ref string, expires time.Time) url.Values {
	exp := expires.Unix()
	q := url.Values{}
	q.Set(ParamID, documentID)
	q.Set(ParamExpires, strconv.FormatInt(exp, 10))
	q.Set(ParamSig, s.Sign(documentID, ref, exp))
	return q
}

// Verify checks a link's signature against ref and its expiry against now.
func (s *Signer) Verify(q url.Values, ref string, now time.Time) error {
	expires := q.Get(ParamExpires)
	if !s.Validate(q.Get(ParamID), ref, expires, q.Get(ParamSig)) {
		return ErrBadSignature
	}
	exp, _ := strconv.ParseInt(expires, 10, 64)
	if now.Unix() > exp {
		return ErrExpired
	}
	return nil
}
