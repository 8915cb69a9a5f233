package chain

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MessageHash is the digest signed for a bitcoin-family signed message:
// double SHA-256 over the var-string magic and the var-bytes message.
func MessageHash(id ID, message []byte) []byte {
	magic := "Bitcoin Signed Message:\n"
	if id == Litecoin {
		magic = "Litecoin Signed Message:\n"
	}

	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, magic)
	_ = wire.WriteVarBytes(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}
