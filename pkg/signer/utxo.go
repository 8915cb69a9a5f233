package signer

import (
	"bytes"
	"context"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/pkg/chain"
	"github.com/status-im/status-signer-go/pkg/keys"
	"github.com/status-im/status-signer-go/pkg/signerr"
	"github.com/status-im/status-signer-go/pkg/txn"
)

const (
	// DustThreshold is the smallest output value, in satoshis, the signers create.
	DustThreshold uint64 = 546

	txOverheadVBytes = 10
	outputVBytes     = 31
	estimatedOutputs = 2

	sequenceRBF   uint32 = wire.MaxTxInSequenceNum - 2
	sequenceFinal uint32 = wire.MaxTxInSequenceNum

	txVersion = 2
)

var inputVBytes = map[txscript.ScriptClass]uint64{
	txscript.PubKeyHashTy:          148,
	txscript.ScriptHashTy:          91,
	txscript.WitnessV0PubKeyHashTy: 68,
	txscript.WitnessV1TaprootTy:    58,
}

var ownedKinds = []chain.AddressKind{
	chain.AddressP2PKH,
	chain.AddressP2SHP2WPKH,
	chain.AddressP2WPKH,
	chain.AddressP2TR,
}

// EstimateVSize is the fee model of the UTXO signers: a fixed overhead, a cost per
// input depending on its script and two outputs, one for the recipient and one for change.
func EstimateVSize(classes []txscript.ScriptClass) (uint64, error) {
	size := uint64(txOverheadVBytes + outputVBytes*estimatedOutputs)
	for _, class := range classes {
		cost, ok := inputVBytes[class]
		if !ok {
			return 0, errors.Wrapf(signerr.ErrInvalidInputs, "cannot spend %s outputs", class)
		}
		size += cost
	}
	return size, nil
}

// UTXOSigner signs bitcoin-family transactions with a key from a keys.Retriever.
type UTXOSigner struct {
	id     chain.ID
	info   chain.Info
	params *chaincfg.Params
	keys   keys.Retriever
	path   string
	logger *zap.Logger
}

func NewUTXOSigner(id chain.ID, retriever keys.Retriever, opts ...Option) (*UTXOSigner, error) {
	info, params, err := utxoChain(id)
	if err != nil {
		return nil, err
	}
	o := newOptions("utxo", opts)
	return &UTXOSigner{
		id:     id,
		info:   info,
		params: params,
		keys:   retriever,
		path:   o.path,
		logger: o.logger.With(zap.Stringer("chain", id)),
	}, nil
}

func utxoChain(id chain.ID) (chain.Info, *chaincfg.Params, error) {
	info, err := chain.Lookup(id)
	if err != nil {
		return chain.Info{}, nil, err
	}
	if info.Family != chain.FamilyUTXO {
		return chain.Info{}, nil, errors.Wrapf(signerr.ErrUnsupportedChain, "%s is not a bitcoin-family chain", id)
	}
	params, err := chain.Params(id)
	if err != nil {
		return chain.Info{}, nil, err
	}
	return info, params, nil
}

func (s *UTXOSigner) Backend() string {
	return BackendSoftware
}

func (s *UTXOSigner) CanSign(address string) bool {
	return validUTXOAddress(address, s.params)
}

func (s *UTXOSigner) Sign(ctx context.Context, tx *txn.UnsignedTransaction, sctx txn.SigningContext) (*txn.SignedTransaction, error) {
	in, err := utxoInputs(tx, s.info, sctx)
	if err != nil {
		return nil, err
	}

	k, err := retrieveKeys(ctx, s.keys, sctx.WalletID, s.id, s.path, sctx.RequireBiometric)
	if err != nil {
		return nil, err
	}
	defer k.Release()

	pub, err := btcec.ParsePubKey(k.PublicKey)
	if err != nil {
		return nil, failed(s.id, errors.Wrap(signerr.ErrKeyDerivationFailed, err.Error()))
	}

	plan, err := newUTXOPlan(s.id, s.params, tx, in, pub)
	if err != nil {
		return nil, err
	}

	err = k.Private.Use(func(b []byte) error {
		priv, _ := btcec.PrivKeyFromBytes(b)
		defer priv.Zero()
		return plan.sign(ctx, func(_ context.Context, hash []byte) (*ecdsa.Signature, error) {
			return ecdsa.Sign(priv, hash), nil
		}, priv)
	})
	if err != nil {
		return nil, failed(s.id, err)
	}

	signed, err := plan.finish()
	if err != nil {
		return nil, failed(s.id, err)
	}
	s.logger.Debug("transaction signed", zap.Int("inputs", len(in.UTXOs)), zap.Int("vsize", signed.VSize))
	return signed, nil
}

// SignMessage returns the 65 byte compact signature of a Bitcoin signed message.
func (s *UTXOSigner) SignMessage(ctx context.Context, walletID string, message []byte) ([]byte, error) {
	k, err := retrieveKeys(ctx, s.keys, walletID, s.id, s.path, true)
	if err != nil {
		return nil, err
	}
	defer k.Release()

	hash := chain.MessageHash(s.id, message)
	var sig []byte
	err = k.Private.Use(func(b []byte) error {
		priv, _ := btcec.PrivKeyFromBytes(b)
		defer priv.Zero()
		sig = ecdsa.SignCompact(priv, hash, true)
		return nil
	})
	if err != nil {
		return nil, failed(s.id, err)
	}
	return sig, nil
}

func utxoInputs(tx *txn.UnsignedTransaction, info chain.Info, sctx txn.SigningContext) (txn.UTXOInputs, error) {
	if err := checkTransaction(tx, info, sctx); err != nil {
		return txn.UTXOInputs{}, err
	}
	in, ok := tx.Inputs.(txn.UTXOInputs)
	if !ok {
		return txn.UTXOInputs{}, errors.Wrapf(signerr.ErrInvalidInputs, "%s inputs for %s", tx.Inputs.Kind(), info.ID)
	}
	return in, nil
}

func validUTXOAddress(address string, params *chaincfg.Params) bool {
	addr, err := btcutil.DecodeAddress(address, params)
	return err == nil && addr.IsForNet(params)
}

func decodeUTXOAddress(address string, params *chaincfg.Params) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, errors.Wrapf(signerr.ErrInvalidInputs, "address %q: %v", address, err)
	}
	if !addr.IsForNet(params) {
		return nil, errors.Wrapf(signerr.ErrInvalidInputs, "address %q is not a %s address", address, params.Name)
	}
	return addr, nil
}

// ecdsaSignFunc signs a 32 byte sighash with the key the plan was built for.
type ecdsaSignFunc func(ctx context.Context, hash []byte) (*ecdsa.Signature, error)

// utxoPlan is a transaction with inputs and outputs laid out, waiting for signatures.
type utxoPlan struct {
	id       chain.ID
	tx       *wire.MsgTx
	pub      *btcec.PublicKey
	prevOuts *txscript.MultiPrevOutFetcher
	scripts  [][]byte
	amounts  []int64
	classes  []txscript.ScriptClass
	fee      uint64
}

func newUTXOPlan(id chain.ID, params *chaincfg.Params, tx *txn.UnsignedTransaction, in txn.UTXOInputs, pub *btcec.PublicKey) (*utxoPlan, error) {
	recipient, err := decodeUTXOAddress(tx.Recipient, params)
	if err != nil {
		return nil, err
	}
	if tx.Amount < DustThreshold {
		return nil, &signerr.DustOutputError{Amount: tx.Amount, Threshold: DustThreshold}
	}

	changeAddress := in.ChangeAddress
	if changeAddress == "" {
		changeAddress = in.UTXOs[0].Address
	}
	change, err := decodeUTXOAddress(changeAddress, params)
	if err != nil {
		return nil, errors.WithMessage(err, "change")
	}

	owned, err := ownedScripts(pub, params)
	if err != nil {
		return nil, err
	}

	sequence := sequenceFinal
	if in.RBFEnabled {
		sequence = sequenceRBF
	}

	p := &utxoPlan{
		id:       id,
		tx:       wire.NewMsgTx(txVersion),
		pub:      pub,
		prevOuts: txscript.NewMultiPrevOutFetcher(nil),
	}
	for _, u := range in.UTXOs {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, errors.Wrapf(signerr.ErrInvalidInputs, "txid %q: %v", u.TxID, err)
		}
		class, ok := owned[string(u.ScriptPubKey)]
		if !ok {
			return nil, errors.Wrapf(signerr.ErrInvalidInputs, "output %s:%d is not spendable by this key", u.TxID, u.OutputIndex)
		}

		outPoint := wire.NewOutPoint(hash, u.OutputIndex)
		txIn := wire.NewTxIn(outPoint, nil, nil)
		txIn.Sequence = sequence
		p.tx.AddTxIn(txIn)
		p.prevOuts.AddPrevOut(*outPoint, wire.NewTxOut(u.Value, u.ScriptPubKey))

		p.scripts = append(p.scripts, u.ScriptPubKey)
		p.amounts = append(p.amounts, u.Value)
		p.classes = append(p.classes, class)
	}

	vsize, err := EstimateVSize(p.classes)
	if err != nil {
		return nil, err
	}
	hi, fee := bits.Mul64(vsize, in.FeeRatePerVByte)
	if hi != 0 {
		return nil, errors.Wrapf(signerr.ErrInvalidInputs, "fee rate %d overflows", in.FeeRatePerVByte)
	}
	required, carry := bits.Add64(tx.Amount, fee, 0)
	if carry != 0 {
		return nil, errors.Wrap(signerr.ErrInvalidInputs, "amount plus fee overflows")
	}

	total, err := in.Total()
	if err != nil {
		return nil, err
	}
	if total < required {
		return nil, &signerr.InsufficientFundsError{Available: total, Required: required}
	}

	recipientScript, err := txscript.PayToAddrScript(recipient)
	if err != nil {
		return nil, errors.Wrap(signerr.ErrInvalidInputs, err.Error())
	}
	p.tx.AddTxOut(wire.NewTxOut(int64(tx.Amount), recipientScript))

	// change at or below dust goes to the miner
	remainder := total - required
	if remainder > DustThreshold {
		changeScript, err := txscript.PayToAddrScript(change)
		if err != nil {
			return nil, errors.Wrap(signerr.ErrInvalidInputs, err.Error())
		}
		p.tx.AddTxOut(wire.NewTxOut(int64(remainder), changeScript))
	} else {
		fee += remainder
	}
	p.fee = fee
	return p, nil
}

// ownedScripts maps every output script the key can spend to its script class.
func ownedScripts(pub *btcec.PublicKey, params *chaincfg.Params) (map[string]txscript.ScriptClass, error) {
	owned := make(map[string]txscript.ScriptClass, len(ownedKinds))
	for _, kind := range ownedKinds {
		addr, err := chain.UTXOAddress(pub.SerializeCompressed(), kind, params)
		if err != nil {
			return nil, err
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		owned[string(script)] = txscript.GetScriptClass(script)
	}
	return owned, nil
}

func (p *utxoPlan) hasTaproot() bool {
	for _, class := range p.classes {
		if class == txscript.WitnessV1TaprootTy {
			return true
		}
	}
	return false
}

// sign fills in every input. Taproot inputs need the private key itself and fail without it.
func (p *utxoPlan) sign(ctx context.Context, signECDSA ecdsaSignFunc, taprootKey *btcec.PrivateKey) error {
	sigHashes := txscript.NewTxSigHashes(p.tx, p.prevOuts)
	pubKey := p.pub.SerializeCompressed()

	witnessProgram, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pubKey)).
		Script()
	if err != nil {
		return errors.WithStack(err)
	}

	for i, txIn := range p.tx.TxIn {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(signerr.ErrCancelled, err.Error())
		}

		switch p.classes[i] {
		case txscript.WitnessV0PubKeyHashTy, txscript.ScriptHashTy:
			hash, err := txscript.CalcWitnessSigHash(witnessProgram, sigHashes, txscript.SigHashAll, p.tx, i, p.amounts[i])
			if err != nil {
				return errors.Wrapf(err, "input %d", i)
			}
			sig, err := signECDSA(ctx, hash)
			if err != nil {
				return err
			}
			txIn.Witness = wire.TxWitness{withHashType(sig), pubKey}
			if p.classes[i] == txscript.ScriptHashTy {
				if txIn.SignatureScript, err = txscript.NewScriptBuilder().AddData(witnessProgram).Script(); err != nil {
					return errors.WithStack(err)
				}
			}

		case txscript.PubKeyHashTy:
			hash, err := txscript.CalcSignatureHash(p.scripts[i], txscript.SigHashAll, p.tx, i)
			if err != nil {
				return errors.Wrapf(err, "input %d", i)
			}
			sig, err := signECDSA(ctx, hash)
			if err != nil {
				return err
			}
			txIn.SignatureScript, err = txscript.NewScriptBuilder().
				AddData(withHashType(sig)).
				AddData(pubKey).
				Script()
			if err != nil {
				return errors.WithStack(err)
			}

		case txscript.WitnessV1TaprootTy:
			if taprootKey == nil {
				return errors.Wrapf(signerr.ErrInvalidInputs, "input %d: taproot key spends need the private key", i)
			}
			witness, err := txscript.TaprootWitnessSignature(p.tx, sigHashes, i, p.amounts[i], p.scripts[i], txscript.SigHashDefault, taprootKey)
			if err != nil {
				return errors.Wrapf(err, "input %d", i)
			}
			txIn.Witness = witness
		}
	}
	return p.verify(sigHashes)
}

func withHashType(sig *ecdsa.Signature) []byte {
	return append(sig.Serialize(), byte(txscript.SigHashAll))
}

// verify runs every input script, so a bad signature never leaves the signer.
func (p *utxoPlan) verify(sigHashes *txscript.TxSigHashes) error {
	for i := range p.tx.TxIn {
		vm, err := txscript.NewEngine(p.scripts[i], p.tx, i, txscript.StandardVerifyFlags, nil, sigHashes, p.amounts[i], p.prevOuts)
		if err != nil {
			return errors.Wrapf(err, "input %d", i)
		}
		if err := vm.Execute(); err != nil {
			return errors.Wrapf(err, "input %d does not verify", i)
		}
	}
	return nil
}

func (p *utxoPlan) finish() (*txn.SignedTransaction, error) {
	var buf bytes.Buffer
	if err := p.tx.Serialize(&buf); err != nil {
		return nil, errors.WithStack(err)
	}
	vsize := (p.tx.SerializeSizeStripped()*3 + p.tx.SerializeSize() + 3) / 4
	return txn.NewSignedTransaction(p.id, p.tx.TxHash().String(), buf.Bytes(), p.fee).WithVSize(vsize), nil
}
