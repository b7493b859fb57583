// Package control exposes the three operator commands named in §6's
// "Control surface (exposed)": start(group, worker_count), status(group),
// stop(). It is the single authenticated HTTP entrypoint an operator uses
// to drive a Supervisor.
package control

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params shapes the Argon2id hash used for the operator password.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

var defaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// HashPassword produces an encoded Argon2id hash suitable for
// config.Config.OperatorPasswordHash. Intended for an operator-facing
// "set password" CLI step, not called at request time.
func HashPassword(password string) (string, error) {
	p := defaultArgon2Params
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("op=control.hash_password: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		p.Iterations, p.Memory, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks password against an encoded Argon2id hash produced
// by HashPassword.
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par64, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	var par uint8
	if par64 > math.MaxUint8 {
		par = math.MaxUint8
	} else {
		par = uint8(par64)
	}
	actual := argon2.IDKey([]byte(password), salt, iters, mem, par, defaultArgon2Params.KeyLen)
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

func parseUint32(s string) (uint32, error) {
	x, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(x), nil
}

// BasicAuth enforces HTTP Basic auth against username/passwordHash. When
// username or passwordHash is empty (operator auth disabled, §1's "no multi-user accounts"
// scaled down further to "no auth configured" for local/dev use) it is a
// no-op.
func BasicAuth(username, passwordHash string) func(http.Handler) http.Handler {
	if username == "" || passwordHash == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 || !VerifyPassword(pass, passwordHash) {
				w.Header().Set("WWW-Authenticate", `Basic realm="fleetsched"`)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
