// Package cookie implements signed and encrypted cookies plus the one-shot
// flash storage the pipeline uses to carry messages and form inputs across a
// single redirect.
//
// Signed cookies are HMAC-SHA256 over the raw value; encrypted cookies are
// AES-GCM with a key derived from the same secret. Flash entries are
// encrypted cookies deleted on first read.
package cookie

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

var (
	ErrNotFound = errors.New("cookie: not found")
	ErrNoSecret = errors.New("cookie: secret required")
	ErrBadSig   = errors.New("cookie: invalid signature")
	ErrDecrypt  = errors.New("cookie: decryption failed")
)

const flashPrefix = "_flash."

// Jar reads and writes cookies with process-wide defaults. The zero options
// produce HttpOnly, SameSite=Lax cookies on "/".
type Jar struct {
	secret   []byte
	path     string
	secure   bool
	sameSite http.SameSite
}

// Option configures a Jar.
type Option func(*Jar)

// WithSecret sets the signing/encryption secret. Values shorter than 32
// bytes are rejected at a higher level (config validation), so the Jar
// accepts whatever it is given.
func WithSecret(secret string) Option {
	return func(j *Jar) { j.secret = []byte(secret) }
}

// WithSecure marks cookies Secure (HTTPS only).
func WithSecure(secure bool) Option {
	return func(j *Jar) { j.secure = secure }
}

// WithSameSite overrides the SameSite attribute.
func WithSameSite(ss http.SameSite) Option {
	return func(j *Jar) { j.sameSite = ss }
}

// New creates a Jar.
func New(opts ...Option) *Jar {
	j := &Jar{path: "/", sameSite: http.SameSiteLaxMode}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Get returns a plain cookie value.
func (j *Jar) Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", ErrNotFound
		}
		return "", err
	}
	return c.Value, nil
}

// Set writes a plain cookie.
func (j *Jar) Set(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, j.build(name, value, maxAge))
}

// Delete expires a cookie.
func (j *Jar) Delete(w http.ResponseWriter, name string) {
	http.SetCookie(w, j.build(name, "", -1))
}

// GetSigned returns a signed cookie value after verifying its HMAC.
func (j *Jar) GetSigned(r *http.Request, name string) (string, error) {
	if j.secret == nil {
		return "", ErrNoSecret
	}

	raw, err := j.Get(r, name)
	if err != nil {
		return "", err
	}

	// Wire format: base64(value).base64(hmac)
	value, sig, ok := strings.Cut(raw, ".")
	if !ok {
		return "", ErrBadSig
	}

	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return "", ErrBadSig
	}
	mac, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", ErrBadSig
	}

	if !hmac.Equal(mac, j.sign(decoded)) {
		return "", ErrBadSig
	}
	return string(decoded), nil
}

// SetSigned writes a cookie with an HMAC appended.
func (j *Jar) SetSigned(w http.ResponseWriter, name, value string, maxAge int) error {
	if j.secret == nil {
		return ErrNoSecret
	}

	encoded := base64.RawURLEncoding.EncodeToString([]byte(value)) +
		"." + base64.RawURLEncoding.EncodeToString(j.sign([]byte(value)))
	http.SetCookie(w, j.build(name, encoded, maxAge))
	return nil
}

// GetEncrypted returns a decrypted cookie value.
func (j *Jar) GetEncrypted(r *http.Request, name string) (string, error) {
	if j.secret == nil {
		return "", ErrNoSecret
	}

	raw, err := j.Get(r, name)
	if err != nil {
		return "", err
	}

	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", ErrDecrypt
	}
	plain, err := j.open(data)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// SetEncrypted writes an AES-GCM encrypted cookie.
func (j *Jar) SetEncrypted(w http.ResponseWriter, name, value string, maxAge int) error {
	if j.secret == nil {
		return ErrNoSecret
	}

	sealed, err := j.seal([]byte(value))
	if err != nil {
		return err
	}
	http.SetCookie(w, j.build(name, base64.RawURLEncoding.EncodeToString(sealed), maxAge))
	return nil
}

// Flash reads a flash entry into dest and deletes it. The entry survives
// exactly one redirect: set on the redirecting response, consumed on the
// next render.
func (j *Jar) Flash(w http.ResponseWriter, r *http.Request, key string, dest any) error {
	name := flashPrefix + key
	raw, err := j.GetEncrypted(r, name)
	if err != nil {
		return err
	}
	j.Delete(w, name)
	return json.Unmarshal([]byte(raw), dest)
}

// SetFlash stores a JSON-encoded flash entry.
func (j *Jar) SetFlash(w http.ResponseWriter, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return j.SetEncrypted(w, flashPrefix+key, string(data), 0)
}

func (j *Jar) build(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     j.path,
		MaxAge:   maxAge,
		Secure:   j.secure,
		HttpOnly: true,
		SameSite: j.sameSite,
	}
}

func (j *Jar) sign(value []byte) []byte {
	mac := hmac.New(sha256.New, j.secret)
	mac.Write(value)
	return mac.Sum(nil)
}

func (j *Jar) aead() (cipher.AEAD, error) {
	key := sha256.Sum256(j.secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (j *Jar) seal(plaintext []byte) ([]byte, error) {
	aead, err := j.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (j *Jar) open(ciphertext []byte) ([]byte, error) {
	aead, err := j.aead()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, rest := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, rest, nil)
}
