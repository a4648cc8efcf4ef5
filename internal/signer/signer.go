// Package signer builds Volcengine HMAC-SHA256 signed requests for the
// visual API.
package signer

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/generatecover/api/internal/model"
)

const (
	Algorithm     = "HMAC-SHA256"
	ContentType   = "application/json"
	SignedHeaders = "content-type;host;x-content-sha256;x-date"

	timestampLayout = "20060102T150405Z"
	dateLayout      = "20060102"
	terminator      = "request"
)

// Credentials are the access key pair issued by the provider console
type Credentials struct {
	AccessKey string
	SecretKey string
}

// Config identifies the API endpoint being signed for
type Config struct {
	Host    string
	Region  string
	Service string
	Version string
}

// Signer signs POST requests to a single host. It holds no mutable state and
// is safe for concurrent use.
type Signer struct {
	creds Credentials
	cfg   Config
	now   func() time.Time
}

func New(creds Credentials, cfg Config) *Signer {
	return &Signer{creds: creds, cfg: cfg, now: time.Now}
}

// WithClock returns a copy of the signer reading time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	cp := *s
	cp.now = now
	return &cp
}

// Host returns the API host the signer targets.
func (s *Signer) Host() string { return s.cfg.Host }

// SignedRequest carries everything needed to send one signed call.
type SignedRequest struct {
	Method        string
	Path          string
	QueryString   string
	ContentType   string
	Host          string
	ContentSHA256 string
	XDate         string
	Authorization string
	Body          []byte
}

// URL returns the absolute https URL for the request.
func (r *SignedRequest) URL() string {
	return "https://" + r.Host + r.Path + "?" + r.QueryString
}

// Apply copies the signed headers onto req.
func (r *SignedRequest) Apply(req *http.Request) {
	req.Host = r.Host
	req.Header.Set("Content-Type", r.ContentType)
	req.Header.Set("Host", r.Host)
	req.Header.Set("X-Content-Sha256", r.ContentSHA256)
	req.Header.Set("X-Date", r.XDate)
	req.Header.Set("Authorization", r.Authorization)
}

// Sign signs body for action using the current time.
func (s *Signer) Sign(action string, body interface{}) (*SignedRequest, error) {
	return s.SignAt(action, body, s.now())
}

// SignAt signs body for action at t. The timestamp and date are derived once
// and shared by the canonical headers and the credential scope.
func (s *Signer) SignAt(action string, body interface{}, t time.Time) (*SignedRequest, error) {
	if s.creds.AccessKey == "" || s.creds.SecretKey == "" {
		return nil, model.NewError(model.ErrKindConfiguration, "image provider credentials are not configured", nil)
	}

	payload, err := EncodeBody(body)
	if err != nil {
		return nil, err
	}

	t = t.UTC()
	timestamp := t.Format(timestampLayout)
	date := t.Format(dateLayout)

	bodyHash := hashHex(payload)
	query := CanonicalQuery(action, s.cfg.Version)
	canonicalHeaders := strings.Join([]string{
		"content-type:" + ContentType,
		"host:" + s.cfg.Host,
		"x-content-sha256:" + bodyHash,
		"x-date:" + timestamp,
	}, "\n")

	canonicalRequest := strings.Join([]string{
		http.MethodPost,
		"/",
		query,
		canonicalHeaders,
		"",
		SignedHeaders,
		bodyHash,
	}, "\n")

	scope := date + "/" + s.cfg.Region + "/" + s.cfg.Service + "/" + terminator
	stringToSign := Algorithm + "\n" + timestamp + "\n" + scope + "\n" + hashHex([]byte(canonicalRequest))

	key := s.signingKey(date)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	return &SignedRequest{
		Method:        http.MethodPost,
		Path:          "/",
		QueryString:   query,
		ContentType:   ContentType,
		Host:          s.cfg.Host,
		ContentSHA256: bodyHash,
		XDate:         timestamp,
		Authorization: Algorithm + " Credential=" + s.creds.AccessKey + "/" + scope +
			", SignedHeaders=" + SignedHeaders + ", Signature=" + signature,
		Body: payload,
	}, nil
}

func (s *Signer) signingKey(date string) []byte {
	kDate := hmacSHA256([]byte(s.creds.SecretKey), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(s.cfg.Region))
	kService := hmacSHA256(kRegion, []byte(s.cfg.Service))
	return hmacSHA256(kService, []byte(terminator))
}

// CanonicalQuery renders the fixed Action/Version query string.
func CanonicalQuery(action, version string) string {
	return "Action=" + url.QueryEscape(action) + "&Version=" + url.QueryEscape(version)
}

// EncodeBody serializes body to the exact bytes that will be hashed and sent.
// HTML characters are left unescaped.
func EncodeBody(body interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, model.NewError(model.ErrKindSerialization, "failed to encode request body", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
