package usm

import (
	"crypto/hmac"
	"crypto/subtle"
	"errors"
)

// localizeKeyBytes implements the RFC 3414 §2.6 password-to-key algorithm
// followed by engine-ID localization: the password is expanded to a
// 1,048,576-byte stream (repeating the password end to end), hashed once to
// get Ku, then Ku || engineID || Ku is hashed again to get the key localized
// to this specific engine.
func localizeKeyBytes(password []byte, engineID []byte, proto AuthProtocol) ([]byte, error) {
	h, err := newHash(proto)
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, errEmptyPassword
	}

	const expandedLen = 1048576
	block := make([]byte, 64)
	pos := 0
	for written := 0; written < expandedLen; written += 64 {
		for i := range block {
			block[i] = password[pos%len(password)]
			pos++
		}
		h.Write(block)
	}
	ku := h.Sum(nil)

	localized := make([]byte, 0, len(ku)*2+len(engineID))
	localized = append(localized, ku...)
	localized = append(localized, engineID...)
	localized = append(localized, ku...)

	h.Reset()
	h.Write(localized)
	return h.Sum(nil), nil
}

// LocalizeKey is the string-password convenience wrapper over
// localizeKeyBytes.
func LocalizeKey(password string, engineID []byte, proto AuthProtocol) ([]byte, error) {
	return localizeKeyBytes([]byte(password), engineID, proto)
}

var errEmptyPassword = errors.New("usm: empty password")

// ExpandPrivKey derives a privacy key of the length privProto requires from
// an authentication key ku. Protocols whose native key length is no longer
// than ku's hash length simply truncate (RFC 3826 §3.1 for AES-128; the
// same convention extends to AES-192/256 when the configured auth hash is
// wide enough). When ku is too short for AES-192/256, two non-standard but
// widely interoperable extension schemes are supported depending on
// privProto: the *A variants concatenate ku with hash(ku) (the scheme
// several vendor implementations call "Agent++/Huawei" key extension);
// the non-A variants instead recursively re-localize ku as if it were a
// password, taking the leading bytes of that result (net-snmp's historical
// convention for usmAES192/256).
func ExpandPrivKey(ku []byte, privProto PrivProtocol, authProto AuthProtocol, engineID []byte) ([]byte, error) {
	need := privKeyLength(privProto)
	if need == 0 {
		return nil, nil
	}
	if len(ku) >= need {
		return ku[:need], nil
	}

	switch privProto {
	case PrivAES192A, PrivAES256A:
		h, err := newHash(authProto)
		if err != nil {
			return nil, err
		}
		h.Write(ku)
		k2 := h.Sum(nil)
		out := make([]byte, need)
		copy(out, ku)
		copy(out[len(ku):], k2[:need-len(ku)])
		return out, nil
	default:
		ext, err := localizeKeyBytes(ku, engineID, authProto)
		if err != nil {
			return nil, err
		}
		out := make([]byte, need)
		copy(out, ku)
		copy(out[len(ku):], ext[:need-len(ku)])
		return out, nil
	}
}

// Digest computes the truncated HMAC authentication digest RFC 3414 §6.3.2
// specifies: a standard RFC 2104 HMAC over msg (which must already have its
// msgAuthenticationParameters field zeroed), truncated to the
// protocol's digest length.
func Digest(msg []byte, localizedKey []byte, proto AuthProtocol) ([]byte, error) {
	ctor, err := hashCtor(proto)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(ctor, localizedKey)
	mac.Write(msg)
	return mac.Sum(nil)[:digestLength(proto)], nil
}

// VerifyDigest reports whether digest matches the HMAC of msg (msg must
// already have its auth-parameters field zeroed), using a constant-time
// comparison so a byte-by-byte early-exit cannot leak timing information
// about the correct digest.
func VerifyDigest(msg []byte, digest []byte, localizedKey []byte, proto AuthProtocol) (bool, error) {
	want, err := Digest(msg, localizedKey, proto)
	if err != nil {
		return false, err
	}
	if len(want) != len(digest) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(want, digest) == 1, nil
}
