// Package webapp serves the prize wheel mini-app API.
package webapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnauthorized is returned when initData is missing, unsigned or forged.
	ErrUnauthorized = errors.New("invalid init data")
	// ErrExpired is returned when initData is older than the allowed age.
	ErrExpired = errors.New("init data expired")
)

// WebAppUser is the user object embedded in initData.
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// InitData is validated mini-app launch data.
type InitData struct {
	User     WebAppUser
	AuthDate time.Time
	QueryID  string
}

// secretKey derives the signing key from the bot token.
func secretKey(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

// dataCheckString joins every field except hash as sorted key=value lines.
func dataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	return strings.Join(lines, "\n")
}

// Sign returns the hash for values under botToken.
func Sign(values url.Values, botToken string) string {
	mac := hmac.New(sha256.New, secretKey(botToken))
	mac.Write([]byte(dataCheckString(values)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks the signature and age of raw initData. maxAge <= 0 disables the age check.
func Validate(raw, botToken string, maxAge time.Duration, now time.Time) (InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return InitData{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	hash := values.Get("hash")
	if hash == "" {
		return InitData{}, fmt.Errorf("%w: missing hash", ErrUnauthorized)
	}
	got, err := hex.DecodeString(hash)
	if err != nil {
		return InitData{}, fmt.Errorf("%w: malformed hash", ErrUnauthorized)
	}
	want, _ := hex.DecodeString(Sign(values, botToken))
	if !hmac.Equal(got, want) {
		return InitData{}, fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	}

	unix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return InitData{}, fmt.Errorf("%w: bad auth_date", ErrUnauthorized)
	}
	authDate := time.Unix(unix, 0)
	if maxAge > 0 && now.Sub(authDate) > maxAge {
		return InitData{}, ErrExpired
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return InitData{}, fmt.Errorf("%w: missing user", ErrUnauthorized)
	}
	return InitData{User: user, AuthDate: authDate, QueryID: values.Get("query_id")}, nil
}
