// Package security guards the admin API with a bearer-token HS256 JWT,
// narrowed from the teacher's security/security.go cookie+CSRF browser
// model: this daemon has no browser session, only a single machine-to-
// machine admin endpoint, so the cookie/CSRF/CORS dance is replaced with
// a plain Authorization: Bearer header check. The JWT signing and
// validation primitives are otherwise unchanged from the teacher.
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	jwtSecret         []byte
	jwtSecretFromCLI  string
	jwtSecretFilePath string
)

// Configure sets the CLI-provided secret or persistent file path for JWT
// secret management. If secret is non-empty it is used directly; otherwise
// the secret is loaded from file, or generated and persisted there.
func Configure(secret, file string) {
	jwtSecretFromCLI = strings.TrimSpace(secret)
	jwtSecretFilePath = strings.TrimSpace(file)
	jwtSecret = nil
}

// Init loads or generates the JWT secret. Safe to call more than once; a
// secret already loaded is left untouched.
func Init() {
	if len(jwtSecret) != 0 {
		return
	}
	if sec := strings.TrimSpace(jwtSecretFromCLI); sec != "" {
		jwtSecret = []byte(sec)
		return
	}
	path := strings.TrimSpace(jwtSecretFilePath)
	if path == "" {
		path = filepath.Join(".", "data", "admin_jwt.secret")
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	if b, err := os.ReadFile(path); err == nil && len(strings.TrimSpace(string(b))) > 0 {
		jwtSecret = []byte(strings.TrimSpace(string(b)))
		return
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err == nil {
		secHex := make([]byte, 64)
		const hexdigits = "0123456789abcdef"
		for i, v := range buf {
			secHex[i*2] = hexdigits[v>>4]
			secHex[i*2+1] = hexdigits[v&0x0f]
		}
		_ = os.WriteFile(path, secHex, 0o600)
		jwtSecret = secHex
		return
	}
	jwtSecret = []byte("soaringest-dev-secret")
}

func base64urlEncode(b []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "=")
}

func base64urlDecode(s string) ([]byte, error) {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.URLEncoding.DecodeString(s)
}

// IssueToken creates an HS256 JWT for the given subject with the given TTL.
func IssueToken(sub string, ttl time.Duration) (string, error) {
	Init()
	h := map[string]interface{}{"alg": "HS256", "typ": "JWT"}
	now := time.Now().Unix()
	exp := time.Now().Add(ttl).Unix()
	p := map[string]interface{}{"sub": sub, "iat": now, "exp": exp, "iss": "soaringest"}
	hb, _ := json.Marshal(h)
	pb, _ := json.Marshal(p)
	head := base64urlEncode(hb)
	pay := base64urlEncode(pb)
	mac := hmac.New(sha256.New, jwtSecret)
	mac.Write([]byte(head + "." + pay))
	sig := base64urlEncode(mac.Sum(nil))
	return head + "." + pay + "." + sig, nil
}

// validateToken checks the HS256 signature and the exp claim.
func validateToken(tok string) bool {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 || len(parts[0]) == 0 || len(parts[1]) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, jwtSecret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	expected := mac.Sum(nil)
	sigBytes, err := base64urlDecode(parts[2])
	if err != nil || !hmac.Equal(expected, sigBytes) {
		return false
	}
	payloadBytes, err := base64urlDecode(parts[1])
	if err != nil {
		return false
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return false
	}
	if v, ok := payload["exp"]; ok {
		exp := int64(0)
		switch t := v.(type) {
		case float64:
			exp = int64(t)
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				exp = n
			}
		}
		if exp > 0 && time.Now().Unix() > exp {
			return false
		}
	}
	return true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

// RequireBearer guards handlers behind a valid Authorization: Bearer <jwt>
// header, used for the admin API's mutating endpoints (e.g. POST
// /admin/suppress).
func RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Init()
		tok := bearerToken(r)
		if tok == "" || !validateToken(tok) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
