package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
}

type JWTClaims struct {
	jwtlib.MapClaims
}

var ErrNoSubject = errors.New("token carries no user id")

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Generate issues a token for userID. Token issuance belongs to the auth
// service; this is kept for tooling and tests.
func Generate(opts Options, userID int64) (string, time.Time, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"id":  userID,
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func Verify(opts Options, token string) (*JWTClaims, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{method.Alg()}), jwtlib.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("claims type mismatch")
	}
	return &JWTClaims{claims}, nil
}

// UserID reads the numeric user id from claim "id", falling back to "sub".
func (c *JWTClaims) UserID() (int64, error) {
	if v, ok := c.MapClaims["id"]; ok && v != nil {
		switch t := v.(type) {
		case float64:
			if t > 0 && t == float64(int64(t)) {
				return int64(t), nil
			}
		case string:
			if id, err := strconv.ParseInt(t, 10, 64); err == nil && id > 0 {
				return id, nil
			}
		}
		return 0, ErrNoSubject
	}
	sub, err := c.GetSubject()
	if err != nil || sub == "" {
		return 0, ErrNoSubject
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrNoSubject
	}
	return id, nil
}

// Authenticate verifies token and returns the user id it was issued for.
func Authenticate(opts Options, token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, ErrNoSubject
	}
	claims, err := Verify(opts, token)
	if err != nil {
		return 0, err
	}
	return claims.UserID()
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
