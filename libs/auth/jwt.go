package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"hash"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims covers both token families accepted by the ticket API.
// Short-form tokens minted by the user service carry the caller in ID;
// long-form tokens from the external identity provider carry it in Sub.
type Claims struct {
	ID    string `json:"id,omitempty"`
	Sub   string `json:"sub,omitempty"`
	Email string `json:"email,omitempty"`
	Exp   int64  `json:"exp,omitempty"`
	Iat   int64  `json:"iat,omitempty"`
}

// UnmarshalJSON accepts "id" as a JSON string or number.
func (c *Claims) UnmarshalJSON(b []byte) error {
	type plain Claims
	aux := struct {
		*plain
		ID json.RawMessage `json:"id,omitempty"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	c.ID = ""
	if len(aux.ID) == 0 || string(aux.ID) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(aux.ID, &s); err == nil {
		c.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(aux.ID, &n); err != nil {
		return err
	}
	c.ID = n.String()
	return nil
}

type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

// DecodeUnverified returns the payload claims without checking the signature
// or expiry. Callers own the trust decision.
func DecodeUnverified(token string) (*Claims, error) {
	parts, err := splitToken(token)
	if err != nil {
		return nil, err
	}
	return decodeClaims(parts[1])
}

func ParseHeader(token string) (*Header, error) {
	parts, err := splitToken(token)
	if err != nil {
		return nil, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var header Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, ErrInvalidToken
	}
	return &header, nil
}

func SignHS256(claims Claims, secret string) (string, error) {
	headerJSON, err := json.Marshal(Header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	unsigned := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return unsigned + "." + hmacSign(sha256.New, unsigned, secret), nil
}

var hmacAlgs = map[string]func() hash.Hash{
	"HS256": sha256.New,
	"HS384": sha512.New384,
	"HS512": sha512.New,
}

// ParseAndVerifyHMAC verifies an HS256, HS384 or HS512 token, picking the
// hash from the header alg.
func ParseAndVerifyHMAC(token, secret string) (*Claims, error) {
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}
	newHash, ok := hmacAlgs[header.Alg]
	if !ok {
		return nil, ErrInvalidToken
	}
	parts, err := splitToken(token)
	if err != nil {
		return nil, err
	}
	unsigned := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(hmacSign(newHash, unsigned, secret))) {
		return nil, ErrInvalidToken
	}
	claims, err := decodeClaims(parts[1])
	if err != nil {
		return nil, err
	}
	if expired(claims) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func VerifyRS256(token string, pubKey crypto.PublicKey) (*Claims, error) {
	parts, err := splitToken(token)
	if err != nil {
		return nil, err
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	rsaKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidToken
	}

	hash := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(rsaKey, crypto.SHA256, hash[:], sig); err != nil {
		return nil, ErrInvalidToken
	}
	claims, err := decodeClaims(parts[1])
	if err != nil {
		return nil, err
	}
	if expired(claims) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func splitToken(token string) ([]string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	return parts, nil
}

func decodeClaims(segment string) (*Claims, error) {
	payload, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func expired(c *Claims) bool {
	return c.Exp > 0 && time.Now().Unix() > c.Exp
}

func hmacSign(newHash func() hash.Hash, data, secret string) string {
	mac := hmac.New(newHash, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
