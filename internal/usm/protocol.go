// Package usm implements the SNMPv3 User-based Security Model (RFC 3414):
// the user store, RFC 3414 §2.6 key localization, HMAC message
// authentication, and DES-CBC / AES-CFB message privacy.
package usm

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
)

// AuthProtocol identifies the authentication hash a user is configured
// with.
type AuthProtocol int

const (
	AuthNone AuthProtocol = iota
	AuthMD5
	AuthSHA1
	AuthSHA224
	AuthSHA256
	AuthSHA384
	AuthSHA512
)

// PrivProtocol identifies the privacy cipher a user is configured with.
type PrivProtocol int

const (
	PrivNone PrivProtocol = iota
	PrivDES
	PrivAES128
	PrivAES192
	PrivAES256
	// PrivAES192A and PrivAES256A are the non-standard key-extension
	// variant some vendors (Agent++/Huawei) use for AES-192/256 when the
	// authentication hash is too short to fill the key directly.
	PrivAES192A
	PrivAES256A
)

// SecurityLevel is the USM securityLevel: the combination of
// authentication and privacy a message was (or must be) processed with.
type SecurityLevel int

const (
	LevelNoAuthNoPriv SecurityLevel = iota
	LevelAuthNoPriv
	LevelAuthPriv
)

// hashCtor returns the hash.Hash constructor for an auth protocol, suitable
// for both one-shot hashing (call it and use the instance directly) and
// crypto/hmac.New (which wants the constructor itself).
func hashCtor(p AuthProtocol) (func() hash.Hash, error) {
	switch p {
	case AuthMD5:
		return md5.New, nil
	case AuthSHA1:
		return sha1.New, nil
	case AuthSHA224:
		return sha256.New224, nil
	case AuthSHA256:
		return sha256.New, nil
	case AuthSHA384:
		return sha512.New384, nil
	case AuthSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("usm: unsupported auth protocol %d", p)
	}
}

func newHash(p AuthProtocol) (hash.Hash, error) {
	ctor, err := hashCtor(p)
	if err != nil {
		return nil, err
	}
	return ctor(), nil
}

// digestLength is the truncated HMAC length RFC 3414/7860 specify per
// protocol: 12 bytes for MD5/SHA1, and 16, 24, 32 and 48 bytes for
// SHA-224, SHA-256, SHA-384 and SHA-512.
func digestLength(p AuthProtocol) int {
	switch p {
	case AuthMD5, AuthSHA1:
		return 12
	case AuthSHA224:
		return 16
	case AuthSHA256:
		return 24
	case AuthSHA384:
		return 32
	case AuthSHA512:
		return 48
	default:
		return 12
	}
}

// privKeyLength is the raw key length a privacy protocol consumes.
func privKeyLength(p PrivProtocol) int {
	switch p {
	case PrivDES:
		return 8
	case PrivAES128:
		return 16
	case PrivAES192, PrivAES192A:
		return 24
	case PrivAES256, PrivAES256A:
		return 32
	default:
		return 0
	}
}
