// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package signer

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
)

const (
	solSigLen    = ed25519.SignatureSize
	solPubKeyLen = ed25519.PublicKeySize
	// solVersionedBit marks a versioned message prefix byte.
	solVersionedBit = 0x80
)

// decodeShortVec reads Solana's compact-u16 length prefix. It returns the value
// and the number of bytes consumed.
func decodeShortVec(b []byte) (int, int, error) {
	var v, n int
	for {
		if n >= len(b) {
			return 0, 0, fmt.Errorf("truncated compact length")
		}
		if n == 3 {
			return 0, 0, fmt.Errorf("compact length overflow")
		}
		elem := int(b[n])
		v |= (elem & 0x7f) << (7 * n)
		n++
		if elem&0x80 == 0 {
			break
		}
	}
	if v > 0xffff {
		return 0, 0, fmt.Errorf("compact length overflow")
	}
	return v, n, nil
}

// encodeShortVec is the inverse of decodeShortVec.
func encodeShortVec(v int) []byte {
	var b []byte
	for {
		elem := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, elem)
		}
		b = append(b, elem|0x80)
	}
}

// solTx is a parsed wire transaction. Only the parts needed to fill a
// signature slot are decoded.
type solTx struct {
	sigs    [][]byte
	message []byte
	// signers are the account keys that must sign, in signature slot order.
	signers [][]byte
}

func parseSolTx(raw []byte) (*solTx, error) {
	count, n, err := decodeShortVec(raw)
	if err != nil {
		return nil, err
	}
	raw = raw[n:]
	if len(raw) < count*solSigLen {
		return nil, fmt.Errorf("truncated signatures")
	}
	tx := &solTx{sigs: make([][]byte, count)}
	for i := range tx.sigs {
		tx.sigs[i] = raw[i*solSigLen : (i+1)*solSigLen]
	}
	tx.message = raw[count*solSigLen:]

	msg := tx.message
	if len(msg) > 0 && msg[0]&solVersionedBit != 0 {
		msg = msg[1:]
	}
	if len(msg) < 3 {
		return nil, fmt.Errorf("truncated message header")
	}
	numRequired := int(msg[0])
	if numRequired != count {
		return nil, fmt.Errorf("%d signature slots for %d required signers", count, numRequired)
	}
	msg = msg[3:]
	numKeys, n, err := decodeShortVec(msg)
	if err != nil {
		return nil, err
	}
	msg = msg[n:]
	if numKeys < numRequired || len(msg) < numKeys*solPubKeyLen {
		return nil, fmt.Errorf("truncated account keys")
	}
	tx.signers = make([][]byte, numRequired)
	for i := range tx.signers {
		tx.signers[i] = msg[i*solPubKeyLen : (i+1)*solPubKeyLen]
	}
	return tx, nil
}

// sign fills the slot of the key's public key. The parsed slices alias raw,
// so the signature is written into a fresh encoding.
func (tx *solTx) sign(key ed25519.PrivateKey) ([]byte, []byte, error) {
	pub := key.Public().(ed25519.PublicKey)
	slot := -1
	for i, signer := range tx.signers {
		if bytes.Equal(signer, pub) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, nil, fmt.Errorf("%w: transaction does not list signer", ErrRelayRejected)
	}
	sig := ed25519.Sign(key, tx.message)

	b := encodeShortVec(len(tx.sigs))
	for i, s := range tx.sigs {
		if i == slot {
			s = sig
		}
		b = append(b, s...)
	}
	b = append(b, tx.message...)
	// The first signature is the transaction id.
	first := sig
	if slot != 0 {
		first = tx.sigs[0]
	}
	return b, first, nil
}
