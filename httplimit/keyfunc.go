package httplimit

import (
	"errors"
	"net/http"
	"net/netip"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/3xpluto/go-rate-limiter/internal/netx"
)

// RemoteAddrKey keys buckets by the connection's source IP, ignoring all
// forwarding headers. The safe default when no proxy sits in front.
func RemoteAddrKey(r *http.Request) string {
	if addr := remoteAddr(r); addr.IsValid() {
		return "ip:" + addr.String()
	}
	return "ip:" + r.RemoteAddr
}

// ClientIPKey keys buckets by client IP, honoring X-Forwarded-For and
// X-Real-Ip only when the directly connected peer is inside trusted.
// Anything else would let clients pick their own bucket with a forged header.
func ClientIPKey(trusted *netx.CIDRSet) KeyFunc {
	return func(r *http.Request) string {
		remote := remoteAddr(r)
		if remote.IsValid() && trusted.Contains(remote) {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				// Left-most entry is the original client.
				first, _, _ := strings.Cut(xff, ",")
				if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
					return "ip:" + addr.String()
				}
			}
			if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-Ip"))); err == nil {
				return "ip:" + addr.String()
			}
		}
		if remote.IsValid() {
			return "ip:" + remote.String()
		}
		return "ip:" + r.RemoteAddr
	}
}

// SubjectKey keys buckets by the "sub" claim of an HS256 bearer token, so
// authenticated callers get per-account budgets regardless of source address.
// Requests without a valid token fall back to the given KeyFunc; a nil
// fallback skips limiting for them.
func SubjectKey(secret []byte, fallback KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		sub, err := bearerSubject(r, secret)
		if err == nil {
			return "sub:" + sub
		}
		if fallback != nil {
			return fallback(r)
		}
		return ""
	}
}

// HeaderKey keys buckets by a request header (an API-key header, typically),
// falling back like SubjectKey when the header is empty.
func HeaderKey(name string, fallback KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return "hdr:" + v
		}
		if fallback != nil {
			return fallback(r)
		}
		return ""
	}
}

func bearerSubject(r *http.Request, secret []byte) (string, error) {
	authz := r.Header.Get("Authorization")
	if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
		return "", errors.New("missing bearer token")
	}
	tokStr := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	tok, err := parser.ParseWithClaims(tokStr, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return "", errors.New("invalid token")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("missing sub claim")
	}
	return sub, nil
}

func remoteAddr(r *http.Request) netip.Addr {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	if addr, err := netip.ParseAddr(r.RemoteAddr); err == nil {
		return addr.Unmap()
	}
	return netip.Addr{}
}
