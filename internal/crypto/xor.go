package crypto

import (
	"crypto/sha1"

	"github.com/templexxx/xorsimd"
	"golang.org/x/crypto/pbkdf2"
)

var (
	xorKeySalt = []byte{0x01, 0x25, 0x68, 0x79}
)

const (
	BlockSize = 1024
)

// XOR is a symmetric keystream obfuscation. It hides payloads from casual
// inspection and is not a substitute for real encryption.
type XOR struct {
	Key []byte
}

// Apply xors src with the repeated key block into dst. dst and src may overlap
// exactly. It returns the number of bytes written.
func (x *XOR) Apply(dst, src []byte) int {
	var (
		n      int
		offset int
		limit  int
	)
	if len(x.Key) < BlockSize {
		return 0
	}
	for offset = 0; offset < len(src); offset += BlockSize {
		limit = offset + BlockSize
		if limit > len(src) {
			limit = len(src)
		}
		n += xorsimd.Bytes(dst[offset:limit], src[offset:limit], x.Key)
	}
	return n
}

func (x *XOR) Encrypt(src []byte) []byte {
	x.Apply(src, src)
	return src
}

func (x *XOR) Decrypt(src []byte) []byte {
	x.Apply(src, src)
	return src
}

// NewXOR derives a BlockSize key from the secret. A secret that is already
// BlockSize long is used as is.
func NewXOR(secret []byte) *XOR {
	if len(secret) == BlockSize {
		return &XOR{Key: secret}
	}
	return &XOR{
		Key: pbkdf2.Key(secret, xorKeySalt, 32, BlockSize, sha1.New),
	}
}
