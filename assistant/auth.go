// Copyright 2025 StroiNadzor
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package assistant

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"stroinadzor/platform/assistant/ratelimit"
)

// User is the authenticated caller identity extracted from a bearer token.
// Requests without a token are anonymous.
type User struct {
	ID   string
	Tier ratelimit.Tier
}

var anonymous = User{ID: "anonymous", Tier: ratelimit.TierAnonymous}

// authenticate resolves the caller from the Authorization header. A missing
// header is anonymous, not an error; a present but invalid token is an
// error, so a paying user with a broken client is told instead of being
// silently downgraded.
func (s *Server) authenticate(r *http.Request) (User, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return anonymous, nil
	}

	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == header {
		return User{}, fmt.Errorf("authorization header must use the Bearer scheme")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return User{}, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, fmt.Errorf("invalid token claims")
	}

	userID := claimString(claims, "user_id")
	if userID == "" {
		return User{}, fmt.Errorf("token has no user_id claim")
	}

	tier := ratelimit.Tier(claimString(claims, "tier"))
	switch tier {
	case ratelimit.TierBasic, ratelimit.TierPremium, ratelimit.TierAdmin:
	default:
		tier = ratelimit.TierBasic
	}

	return User{ID: userID, Tier: tier}, nil
}

// requireAdmin authenticates and rejects non-admin callers.
func (s *Server) requireAdmin(r *http.Request) (User, error) {
	user, err := s.authenticate(r)
	if err != nil {
		return User{}, err
	}
	if user.Tier != ratelimit.TierAdmin {
		return User{}, fmt.Errorf("admin access required")
	}
	return user, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
