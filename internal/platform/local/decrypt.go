package local

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// aes128gcm content coding (RFC 8188) with the web push key derivation
// (RFC 8291). The sender's ephemeral public key rides in the header keyid.

var (
	errTruncatedHeader = errors.New("push payload: truncated aes128gcm header")
	errBadRecordSize   = errors.New("push payload: record size below minimum")
	errBadSenderKey    = errors.New("push payload: keyid is not a P-256 point")
	errBadPadding      = errors.New("push payload: invalid record padding")
)

const (
	saltLen       = 16
	minRecordSize = 18 // GCM tag (16) + delimiter (1) + at least one byte of room
	gcmTagLen     = 16
	nonceLen      = 12
	cekLen        = 16
)

// decrypt opens an aes128gcm message addressed to the given subscription keys.
func decrypt(keys *keyPair, body []byte) ([]byte, error) {
	if len(body) < saltLen+4+1 {
		return nil, errTruncatedHeader
	}
	salt := body[:saltLen]
	rs := binary.BigEndian.Uint32(body[saltLen : saltLen+4])
	idLen := int(body[saltLen+4])
	headerLen := saltLen + 4 + 1 + idLen
	if len(body) < headerLen {
		return nil, errTruncatedHeader
	}
	if rs < minRecordSize {
		return nil, errBadRecordSize
	}
	senderPub := body[saltLen+5 : headerLen]
	records := body[headerLen:]

	asPub, err := ecdhPublicKey(senderPub)
	if err != nil {
		return nil, errBadSenderKey
	}
	shared, err := keys.priv.ECDH(asPub)
	if err != nil {
		return nil, fmt.Errorf("push payload: ecdh: %w", err)
	}

	// RFC 8291 section 3.4: combine the ECDH secret with the auth secret,
	// binding both public keys into the IKM.
	ikmInfo := append([]byte("WebPush: info\x00"), keys.publicKey()...)
	ikmInfo = append(ikmInfo, senderPub...)
	ikm := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, keys.authSecret, ikmInfo), ikm); err != nil {
		return nil, fmt.Errorf("push payload: hkdf ikm: %w", err)
	}

	cek := make([]byte, cekLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: aes128gcm\x00")), cek); err != nil {
		return nil, fmt.Errorf("push payload: hkdf cek: %w", err)
	}
	baseNonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: nonce\x00")), baseNonce); err != nil {
		return nil, fmt.Errorf("push payload: hkdf nonce: %w", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	var out []byte
	var seq uint64
	for len(records) > 0 {
		n := int(rs)
		last := false
		if n >= len(records) {
			n = len(records)
			last = true
		}
		record := records[:n]
		records = records[n:]
		if len(record) < gcmTagLen+1 {
			return nil, errBadRecordSize
		}

		plain, err := gcm.Open(nil, recordNonce(baseNonce, seq), record, nil)
		if err != nil {
			return nil, fmt.Errorf("push payload: decrypt: %w", err)
		}
		content, err := stripPadding(plain, last)
		if err != nil {
			return nil, err
		}
		out = append(out, content...)
		seq++
	}
	return out, nil
}

// recordNonce XORs the record sequence number into the base nonce (RFC 8188).
func recordNonce(base []byte, seq uint64) []byte {
	nonce := make([]byte, nonceLen)
	copy(nonce, base)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	for i := 0; i < 8; i++ {
		nonce[nonceLen-8+i] ^= seqBytes[i]
	}
	return nonce
}

// stripPadding removes the delimiter octet (0x02 on the final record, 0x01
// otherwise) and any trailing zero padding.
func stripPadding(plain []byte, last bool) ([]byte, error) {
	i := len(plain) - 1
	for i >= 0 && plain[i] == 0 {
		i--
	}
	if i < 0 {
		return nil, errBadPadding
	}
	want := byte(0x01)
	if last {
		want = 0x02
	}
	if plain[i] != want {
		return nil, errBadPadding
	}
	return bytes.Clone(plain[:i]), nil
}
