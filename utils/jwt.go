package utils

import (
	"FetchVault/config"
	"FetchVault/internal/repo"
	"context"
	"errors"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type StreamClaims struct {
	TaskID string `json:"task_id"`
	jwt.RegisteredClaims
}

func streamTokenKey(jti string) string {
	return "stream:token:" + jti
}

// GenerateStreamToken creates a short-lived JWT scoped to one task's
// event stream. The token id is tracked in Redis so issued tokens can
// be revoked by key expiry.
func GenerateStreamToken(ctx context.Context, taskID string) (string, error) {
	jti := GetToken()
	claims := StreamClaims{
		TaskID: taskID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(config.AppConfig.StreamTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(config.AppConfig.JWTSecret))
	if err != nil {
		log.Println("Error signing stream token:", err)
		return "", err
	}
	if err := repo.Redis.Set(ctx, streamTokenKey(jti), taskID, config.AppConfig.StreamTokenTTL).Err(); err != nil {
		return "", err
	}
	return tokenString, nil
}

// VerifyStreamToken parses a stream JWT and checks it is still live in
// Redis and bound to the requested task.
func VerifyStreamToken(ctx context.Context, tokenString, taskID string) (*StreamClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StreamClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		log.Println("Error parsing stream token:", err)
		return nil, errors.New("invalid token")
	}
	claims, ok := token.Claims.(*StreamClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TaskID != taskID {
		return nil, errors.New("token not valid for this task")
	}
	stored, err := repo.Redis.Get(ctx, streamTokenKey(claims.ID)).Result()
	if err != nil || stored != taskID {
		return nil, errors.New("token expired")
	}
	return claims, nil
}
