// Package auth hashes and verifies the two credential slots the API and
// hook dispatcher gate on: the main API password and the restricted
// output-view password. Hashes are self-describing encoded strings carrying
// their argon2id (golang.org/x/crypto/argon2) cost parameters, so older
// hashes keep verifying after the defaults change.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidCredentials is returned by Verify on any mismatch; callers must
// not distinguish "wrong password" from "no such hash" in their response.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Params tunes the argon2id cost. Defaults follow the library's recommended
// interactive profile.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultParams is the argon2id interactive profile: 1 pass, 64 MiB, 4 lanes.
var DefaultParams = Params{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLen: 32, SaltLen: 16}

// Hash derives an encoded argon2id hash for password using p. A blocking
// call; callers on the hot path should run it on a worker goroutine / pool
// so the argon2 work never runs on a latency-sensitive handler goroutine.
func Hash(password string, p Params) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s", p.Time, p.Memory, p.Threads, encodedSalt, encodedKey), nil
}

// Verify checks candidate against an encoded hash produced by Hash. Constant
// time in the derived key comparison.
func Verify(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return fmt.Errorf("verify password: invalid hash format")
	}
	time64, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return fmt.Errorf("verify password: invalid time cost: %w", err)
	}
	memory64, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return fmt.Errorf("verify password: invalid memory cost: %w", err)
	}
	threads64, err := strconv.ParseUint(parts[3], 10, 8)
	if err != nil {
		return fmt.Errorf("verify password: invalid thread count: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := argon2.IDKey([]byte(candidate), salt, uint32(time64), uint32(memory64), uint8(threads64), uint32(len(storedKey)))
	if subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// HashAsync runs Hash on a new goroutine, respecting ctx cancellation: it
// returns ctx.Err() as soon as ctx is done, while the hash computation itself
// runs to completion in the background. There is no fixed-size worker pool;
// the point is not stalling the caller's own I/O loop.
func HashAsync(ctx context.Context, password string, p Params) (string, error) {
	type outcome struct {
		hash string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		h, err := Hash(password, p)
		done <- outcome{h, err}
	}()
	select {
	case o := <-done:
		return o.hash, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
