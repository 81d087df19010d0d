package headercodec

import (
	"encoding/base64"
	"net/http"
	"testing"
)

func TestParseScheme(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{"basic", "Basic YWxpY2U6c2VjcmV0", "basic", true},
		{"negotiate mixed case", "Negotiate abc", "negotiate", true},
		{"leading spaces", "  Basic YWJj", "basic", true},
		{"x-login-reply", "X-Login-Reply deadbeef MTIzNA==", "x-login-reply", true},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			got, ok := ParseScheme(h)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("ParseScheme(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.wantOK)
			}
			// ParseScheme must not consume the header.
			if tt.header != "" && h.Get("Authorization") != tt.header {
				t.Fatalf("ParseScheme must not mutate headers")
			}
		})
	}
}

func TestTakePayloadRemovesHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:secret")))

	p, ok := TakePayload(h, true)
	if !ok {
		t.Fatal("TakePayload() ok = false")
	}
	if string(p.Bytes) != "alice:secret" {
		t.Fatalf("TakePayload() = %q, want %q", p.Bytes, "alice:secret")
	}
	if h.Get("Authorization") != "" {
		t.Fatal("TakePayload must remove the Authorization header")
	}
	p.Release()
	if p.Bytes != nil {
		t.Fatal("Release must nil out Bytes")
	}
}

func TestTakePayloadRawNoDecode(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Negotiate abcXYZ==")
	p, ok := TakePayload(h, false)
	if !ok || string(p.Bytes) != "abcXYZ==" {
		t.Fatalf("TakePayload raw = %v %q", ok, p.Bytes)
	}
}

func TestTakePayloadBadBase64(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Basic not-valid-base64!!!")
	_, ok := TakePayload(h, true)
	if ok {
		t.Fatal("TakePayload should fail on invalid base64")
	}
}

// R1: round-trip of a Basic payload losslessly when user has no colon.
func TestParseBasicRoundTrip(t *testing.T) {
	user, password, ok := ParseBasic([]byte("alice:sup3r:secret"))
	if !ok {
		t.Fatal("ParseBasic() ok = false")
	}
	if user != "alice" || string(password) != "sup3r:secret" {
		t.Fatalf("ParseBasic() = (%q, %q)", user, password)
	}
}

func TestParseBasicNoColon(t *testing.T) {
	_, _, ok := ParseBasic([]byte("nocolonhere"))
	if ok {
		t.Fatal("ParseBasic should fail without a colon")
	}
}

// R2
func TestParseApplication(t *testing.T) {
	tests := map[string]string{
		"/cockpit+foo/bar": "cockpit+foo",
		"/anything/else":   "cockpit",
		"/":                "cockpit",
		"/cockpit+foo":     "cockpit+foo",
	}
	for path, want := range tests {
		if got := ParseApplication(path); got != want {
			t.Errorf("ParseApplication(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestValidApplication(t *testing.T) {
	valid := []string{"cockpit", "cockpit+foo", "cockpit+foo.bar-baz_1"}
	invalid := []string{"", "cockpit;drop", "cockpit foo", "cockpit/foo"}
	for _, app := range valid {
		if !ValidApplication(app) {
			t.Errorf("ValidApplication(%q) = false, want true", app)
		}
	}
	for _, app := range invalid {
		if ValidApplication(app) {
			t.Errorf("ValidApplication(%q) = true, want false", app)
		}
	}
}

func TestBuildGSSAPIChallengeEmptyOutput(t *testing.T) {
	h := http.Header{}
	BuildGSSAPIChallenge(h, "")
	if h.Get("WWW-Authenticate") != "Negotiate" {
		t.Fatalf("expected bare Negotiate for empty gssapi-output, got %q", h.Get("WWW-Authenticate"))
	}
}

func TestBuildGSSAPIChallengeWithOutput(t *testing.T) {
	h := http.Header{}
	BuildGSSAPIChallenge(h, "deadbeef")
	want := "Negotiate " + base64.StdEncoding.EncodeToString([]byte{0xde, 0xad, 0xbe, 0xef})
	if got := h.Get("WWW-Authenticate"); got != want {
		t.Fatalf("BuildGSSAPIChallenge() header = %q, want %q", got, want)
	}
}

func TestBuildPromptChallenge(t *testing.T) {
	h := http.Header{}
	BuildPromptChallenge(h, "conv123", "PIN?")
	want := "X-Login-Reply conv123 " + base64.StdEncoding.EncodeToString([]byte("PIN?"))
	if got := h.Get("WWW-Authenticate"); got != want {
		t.Fatalf("BuildPromptChallenge() header = %q, want %q", got, want)
	}
}

// R3
func TestSetCookieAndReadCookieRoundTrip(t *testing.T) {
	respHeaders := http.Header{}
	BuildSetCookie(respHeaders, "cockpit", CookieValue("abc123"), true)
	setCookie := respHeaders.Get("Set-Cookie")
	if setCookie == "" {
		t.Fatal("Set-Cookie not set")
	}

	// Simulate the client echoing it back as a request Cookie header.
	// Set-Cookie is "name=value; Path=/; Secure; HttpOnly" — extract name=value.
	nameValue := setCookie[:len(setCookie)-len("; Path=/; Secure; HttpOnly")]

	reqHeaders := http.Header{}
	reqHeaders.Set("Cookie", nameValue)

	got, ok := ReadCookie(reqHeaders, "cockpit")
	if !ok {
		t.Fatal("ReadCookie() ok = false")
	}
	if got != "v=2;k=abc123" {
		t.Fatalf("ReadCookie() = %q, want %q", got, "v=2;k=abc123")
	}
}

func TestBuildSetCookieInsecure(t *testing.T) {
	h := http.Header{}
	BuildSetCookie(h, "cockpit", CookieValue("x"), false)
	got := h.Get("Set-Cookie")
	if got == "" {
		t.Fatal("Set-Cookie not set")
	}
	for _, part := range []string{"Secure"} {
		if containsToken(got, part) {
			t.Fatalf("Set-Cookie %q should not contain %q when insecure", got, part)
		}
	}
}

func containsToken(s, tok string) bool {
	for i := 0; i+len(tok) <= len(s); i++ {
		if s[i:i+len(tok)] == tok {
			return true
		}
	}
	return false
}
