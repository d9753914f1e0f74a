package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
)

// DateSkewWindow is the accepted clock drift for the Date header on
// signed inbox requests.
const DateSkewWindow = 30 * time.Second

// SignRequest signs an outgoing HTTP request with the given private key.
// The Digest header must already be set by the caller.
// keyId format: "https://example.com/federation/user/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// VerifyRequest verifies the HTTP signature on an incoming request
// against the given public key PEM. Returns the keyId owner URI.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	if req.Header.Get("Signature") == "" {
		return "", ErrMissingSignature
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", ErrInvalidSignature
	}

	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	keyId := verifier.KeyId()
	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", ErrInvalidSignature
	}

	// keyId is usually "https://example.com/federation/user/alice#main-key",
	// the owner is everything before the fragment
	return strings.Split(keyId, "#")[0], nil
}

// ExtractKeyId returns the keyId parameter of the Signature header
// without verifying anything. The inbox uses it to locate the actor
// whose public key will verify the request.
func ExtractKeyId(req *http.Request) (string, error) {
	signature := req.Header.Get("Signature")
	if signature == "" {
		return "", ErrMissingSignature
	}
	for _, part := range strings.Split(signature, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "keyId=") {
			return strings.Trim(strings.TrimPrefix(part, "keyId="), `"`), nil
		}
	}
	return "", ErrInvalidSignature
}

// CheckDateHeader validates that the request Date header is within the
// accepted skew window around now.
func CheckDateHeader(req *http.Request, now time.Time) error {
	dateHeader := req.Header.Get("Date")
	if dateHeader == "" {
		return ErrDateTooFar
	}
	date, err := http.ParseTime(dateHeader)
	if err != nil {
		return ErrDateTooFar
	}
	diff := now.Sub(date)
	if diff < 0 {
		diff = -diff
	}
	if diff > DateSkewWindow {
		return ErrDateTooFar
	}
	return nil
}

// DigestRequired reports whether digest verification is mandatory for
// the request: either a Digest header is present or the digest header
// is part of the signed headers list.
func DigestRequired(req *http.Request) bool {
	if req.Header.Get("Digest") != "" {
		return true
	}
	signature := req.Header.Get("Signature")
	for _, part := range strings.Split(signature, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "headers=") {
			headers := strings.Trim(strings.TrimPrefix(part, "headers="), `"`)
			for _, h := range strings.Fields(headers) {
				if strings.EqualFold(h, "digest") {
					return true
				}
			}
		}
	}
	return false
}

// CheckDigest recomputes the digest of the body and compares it to the
// Digest header. SHA-256 and SHA-512 digests are accepted. The
// algorithm name is case-insensitive, the base64 value is not.
func CheckDigest(req *http.Request, body []byte) error {
	digestHeader := req.Header.Get("Digest")
	parts := strings.SplitN(digestHeader, "=", 2)
	if len(parts) != 2 {
		return ErrDigestMismatch
	}

	var expected string
	switch strings.ToUpper(parts[0]) {
	case "SHA-256":
		hash := sha256.Sum256(body)
		expected = base64.StdEncoding.EncodeToString(hash[:])
	case "SHA-512":
		hash := sha512.Sum512(body)
		expected = base64.StdEncoding.EncodeToString(hash[:])
	default:
		return ErrDigestMismatch
	}

	if parts[1] != expected {
		return ErrDigestMismatch
	}
	return nil
}

// ComputeDigest returns the Digest header value for an outgoing body.
func ComputeDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// ParsePrivateKey converts a PKCS#1 PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts a PEM string to *rsa.PublicKey. Local keys
// are PKCS#1, most remote servers publish PKIX, so both are accepted.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
