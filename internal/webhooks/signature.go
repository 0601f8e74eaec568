package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// SignaturePrefix precedes the hex digest in the X-Webhook-Signature header.
const SignaturePrefix = "sha256="

var ErrMalformedSignature = errors.New("malformed signature")

// Canonicalize returns the deterministic JSON encoding of payload: object keys
// sorted, no insignificant whitespace, numbers kept as written, HTML characters
// left unescaped. payload is either raw JSON bytes ([]byte, json.RawMessage) or a
// value encoding/json can marshal; a Go string is encoded as a JSON string.
func Canonicalize(payload any) ([]byte, error) {
	var raw []byte
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, badInputError(err, "payload is not JSON-encodable", TextCodeInvalidPayload)
		}
		raw = b
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, badInputError(err, "payload is not valid JSON", TextCodeInvalidPayload)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, badInputError(nil, "payload has trailing data", TextCodeInvalidPayload)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, badInputError(err, "payload is not JSON-encodable", TextCodeInvalidPayload)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign returns "sha256=<hex HMAC-SHA256>". Raw JSON bytes ([]byte,
// json.RawMessage) are validated and signed exactly as given; any other value
// is signed over its canonical encoding.
func Sign(payload any, secret string) (string, error) {
	body, err := signedBytes(payload)
	if err != nil {
		return "", err
	}
	return SignBytes(body, secret), nil
}

// SignBytes signs body byte for byte.
func SignBytes(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload under secret. Raw bytes are
// checked exactly as received, so any change to the body (whitespace, key
// order, duplicate keys) fails. A mismatch is (false, nil); an error is
// returned only when the signature is malformed or a Go value cannot be
// encoded.
func Verify(payload any, signature, secret string) (bool, error) {
	provided, err := decodeSignature(signature)
	if err != nil {
		return false, err
	}
	var body []byte
	switch v := payload.(type) {
	case json.RawMessage:
		body = v
	case []byte:
		body = v
	default:
		if body, err = Canonicalize(payload); err != nil {
			return false, err
		}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided), nil
}

// signedBytes is what Sign covers: raw JSON as given, anything else canonical.
func signedBytes(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		if _, err := Canonicalize(v); err != nil {
			return nil, err
		}
		return v, nil
	case []byte:
		if _, err := Canonicalize(v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return Canonicalize(payload)
}

func decodeSignature(signature string) ([]byte, error) {
	hexPart, ok := strings.CutPrefix(strings.TrimSpace(signature), SignaturePrefix)
	if !ok {
		return nil, badInputError(ErrMalformedSignature, "signature must start with "+SignaturePrefix, TextCodeMalformedSignature)
	}
	b, err := hex.DecodeString(hexPart)
	if err != nil || len(b) == 0 {
		return nil, badInputError(ErrMalformedSignature, "signature is not hex encoded", TextCodeMalformedSignature)
	}
	return b, nil
}
