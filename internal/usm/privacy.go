package usm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"errors"
	"sync/atomic"
)

// Salt is the privacy salt an agent must mint for every outgoing encrypted
// message: a monotonically increasing counter, unique per engine boot, laid
// into msgPrivacyParameters for the peer to reconstruct the IV. Safe for
// concurrent use by every worker sharing one engine boot.
type Salt struct {
	counter atomic.Uint64
}

// Next returns the next 8-byte big-endian salt value.
func (s *Salt) Next() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], s.counter.Add(1))
	return b
}

func padSNMP(src []byte, blockSize int) []byte {
	if len(src)%blockSize == 0 {
		return src
	}
	padding := blockSize - len(src)%blockSize
	padded := make([]byte, len(src)+padding)
	copy(padded, src)
	for i := len(src); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

// unpadSNMPLenient removes PKCS#5 padding if it looks valid, and otherwise
// returns src unchanged — SNMPv3 scopedPDUs are not required to be padded
// to a block boundary when already block-aligned, so a receiver cannot
// distinguish "no padding was applied" from "padding was stripped
// already" except by checking whether the trailer looks like padding.
func unpadSNMPLenient(src []byte, blockSize int) []byte {
	if len(src) == 0 {
		return src
	}
	padding := int(src[len(src)-1])
	if padding <= 0 || padding > blockSize || padding > len(src) {
		return src
	}
	for i := 0; i < padding; i++ {
		if src[len(src)-1-i] != byte(padding) {
			return src
		}
	}
	return src[:len(src)-padding]
}

// DESIV builds the 8-byte DES-CBC pre-IV: the last 8 bytes of the privacy
// key XORed with the 8-byte salt (RFC 3414 §8.1.1.1).
func DESIV(privKey []byte, salt [8]byte) [8]byte {
	var iv [8]byte
	preIV := privKey[len(privKey)-8:]
	for i := range iv {
		iv[i] = preIV[i] ^ salt[i]
	}
	return iv
}

// EncryptDES performs DES-CBC privacy with SNMP-lenient padding (RFC 3414
// §8.1.1, legacy privacy protocol).
func EncryptDES(plaintext, key []byte, iv [8]byte) ([]byte, error) {
	if len(key) != 8 {
		return nil, errors.New("usm: DES key must be 8 bytes")
	}
	block, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := padSNMP(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, padded)
	return out, nil
}

// DecryptDES reverses EncryptDES.
func DecryptDES(ciphertext, key []byte, iv [8]byte) ([]byte, error) {
	if len(key) != 8 {
		return nil, errors.New("usm: DES key must be 8 bytes")
	}
	if len(ciphertext) == 0 || len(ciphertext)%8 != 0 {
		return nil, errors.New("usm: DES ciphertext must be a non-empty multiple of 8 bytes")
	}
	block, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, ciphertext)
	return unpadSNMPLenient(out, block.BlockSize()), nil
}

// AESIV builds the 16-byte AES-CFB IV: engineBoots (4 bytes, big-endian)
// || engineTime (4 bytes, big-endian) || salt (8 bytes) (RFC 3826 §3.1.1).
func AESIV(engineBoots uint32, engineTime uint32, salt [8]byte) [16]byte {
	var iv [16]byte
	binary.BigEndian.PutUint32(iv[0:4], engineBoots)
	binary.BigEndian.PutUint32(iv[4:8], engineTime)
	copy(iv[8:], salt[:])
	return iv
}

// EncryptAESCFB performs AES-CFB128 privacy for any of AES-128/192/256 (RFC
// 3826). Unlike DES, CFB is a stream cipher: no padding is applied and
// ciphertext length equals plaintext length.
func EncryptAESCFB(plaintext, key []byte, iv [16]byte) ([]byte, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, errors.New("usm: AES key must be 16, 24, or 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(block, iv[:]).XORKeyStream(out, plaintext)
	return out, nil
}

// DecryptAESCFB reverses EncryptAESCFB.
func DecryptAESCFB(ciphertext, key []byte, iv [16]byte) ([]byte, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, errors.New("usm: AES key must be 16, 24, or 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(block, iv[:]).XORKeyStream(out, ciphertext)
	return out, nil
}
