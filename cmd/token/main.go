// Command token mints HS256 bearer tokens for exercising subject-scoped
// limiting against ratelimitd.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	var secret string
	var sub string
	var ttl time.Duration
	flag.StringVar(&secret, "secret", "dev-secret", "HS256 secret (keying.hmac_secret)")
	flag.StringVar(&sub, "sub", "user_123", "subject claim, i.e. the bucket key")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	fmt.Println(s)
}
