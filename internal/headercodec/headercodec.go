// Package headercodec turns HTTP Authorization/Cookie headers into the
// broker's internal types, and formats WWW-Authenticate / Set-Cookie
// headers back out. It never holds onto a header value longer than it has
// to: payload buffers are handed to the caller as a Payload, which must be
// released (zeroed) once the driver is done with it.
package headercodec

import (
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"

	"github.com/webadmin-gateway/authbroker/internal/secmem"
)

// Payload is a decoded Authorization payload. Release must be called once
// the caller is finished with Bytes — it zeroes the backing buffer.
type Payload struct {
	Bytes []byte
}

// Release zeroes the payload buffer. Safe to call on a nil *Payload.
func (p *Payload) Release() {
	if p == nil {
		return
	}
	secmem.ZeroBytes(p.Bytes)
	p.Bytes = nil
}

// ParseScheme reads the Authorization header and returns its scheme token
// lowercased ("basic", "negotiate", "x-login-reply", ...). It does not
// consume the header. Returns ("", false) if there is no Authorization
// header or it has no scheme token.
func ParseScheme(headers http.Header) (string, bool) {
	raw := headers.Get("Authorization")
	if raw == "" {
		return "", false
	}
	raw = strings.TrimLeft(raw, " ")
	if raw == "" {
		return "", false
	}
	end := strings.IndexByte(raw, ' ')
	var token string
	if end < 0 {
		token = raw
	} else {
		token = raw[:end]
	}
	if token == "" {
		return "", false
	}
	return strings.ToLower(token), true
}

// TakePayload removes the Authorization header (so it stops showing up in
// anything that logs headers) and returns its payload, optionally
// base64-decoded. Returns (nil, false) if there was no Authorization header,
// or the payload was non-empty but failed base64 decoding.
func TakePayload(headers http.Header, decodeBase64 bool) (*Payload, bool) {
	raw := headers.Get("Authorization")
	headers.Del("Authorization")
	if raw == "" {
		return nil, false
	}

	raw = strings.TrimLeft(raw, " ")
	sp := strings.IndexByte(raw, ' ')
	var body string
	if sp >= 0 {
		body = strings.TrimLeft(raw[sp+1:], " ")
	}

	if !decodeBase64 {
		b := []byte(body)
		return &Payload{Bytes: b}, true
	}

	if body == "" {
		return &Payload{Bytes: nil}, true
	}

	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, false
	}
	return &Payload{Bytes: decoded}, true
}

// ParseBasic splits a Basic payload into user and password on the first
// colon. The password aliases into payload's backing array; zeroing the
// Payload zeroes the password too, so callers that need the password beyond
// the Payload's lifetime must copy it first.
func ParseBasic(payload []byte) (user string, password []byte, ok bool) {
	idx := -1
	for i, b := range payload {
		if b == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", nil, false
	}
	return string(payload[:idx]), payload[idx+1:], true
}

// cockpitAppPrefix matches the "/cockpit+<suffix>" path form.
var cockpitAppPrefix = regexp.MustCompile(`^/cockpit\+([^/]+)`)

// ParseApplication derives the cookie namespace from a request path.
// "/cockpit+foo/bar" -> "cockpit+foo"; anything else -> "cockpit".
func ParseApplication(path string) string {
	if m := cockpitAppPrefix.FindStringSubmatch(path); m != nil {
		return "cockpit+" + m[1]
	}
	return "cockpit"
}

// validApplication matches legal cookie-name characters. The spec notes the
// original broker never validated this; we reject anything outside this set
// before it is ever used as a cookie name.
var validApplication = regexp.MustCompile(`^[A-Za-z0-9+._-]+$`)

// ValidApplication reports whether app is safe to use as a cookie name.
func ValidApplication(app string) bool {
	return app != "" && validApplication.MatchString(app)
}

// BuildGSSAPIChallenge sets WWW-Authenticate: Negotiate [<base64>] from the
// helper's "gssapi-output" hex field, if present. An empty output emits a
// bare "Negotiate" continuation challenge.
func BuildGSSAPIChallenge(headers http.Header, gssapiOutputHex string) {
	raw, err := hex.DecodeString(gssapiOutputHex)
	if err != nil {
		return
	}
	if len(raw) == 0 {
		headers.Set("WWW-Authenticate", "Negotiate")
		return
	}
	headers.Set("WWW-Authenticate", "Negotiate "+base64.StdEncoding.EncodeToString(raw))
}

// BuildPromptChallenge sets WWW-Authenticate: X-Login-Reply <id> <b64 prompt>.
func BuildPromptChallenge(headers http.Header, conversationID, prompt string) {
	encoded := base64.StdEncoding.EncodeToString([]byte(prompt))
	headers.Set("WWW-Authenticate", "X-Login-Reply "+conversationID+" "+encoded)
}

// CookieValue builds the "v=2;k=<id>" cookie payload for a fresh nonce.
func CookieValue(id string) string {
	return "v=2;k=" + id
}

// BuildSetCookie sets Set-Cookie: <application>=<base64(cookieValue)>; ...
func BuildSetCookie(headers http.Header, application, cookieValue string, secure bool) {
	encoded := base64.StdEncoding.EncodeToString([]byte(cookieValue))
	value := application + "=" + encoded + "; Path=/; "
	if secure {
		value += "Secure; "
	}
	value += "HttpOnly"
	headers.Add("Set-Cookie", value)
}

// ReadCookie extracts and base64-decodes the named cookie from the Cookie
// header, returning its decoded value. ok is false if the cookie is absent
// or fails to decode.
func ReadCookie(headers http.Header, name string) (value string, ok bool) {
	raw := headers.Get("Cookie")
	if raw == "" {
		return "", false
	}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		if part[:eq] != name {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(part[eq+1:])
		if err != nil {
			return "", false
		}
		return string(decoded), true
	}
	return "", false
}
