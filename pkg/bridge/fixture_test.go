package bridge

import (
	"bytes"
	"testing"
	"time"

	"btc-bridge/database"
	"btc-bridge/pkg/assets"
	"btc-bridge/pkg/event"
	"btc-bridge/pkg/primitives"
	"btc-bridge/pkg/records"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var (
	alice = primitives.AccountID{0xa}
	bob   = primitives.AccountID{0xb}
)

type fixture struct {
	kv     database.KV
	store  database.Store
	ledger *assets.Ledger
	keeper *records.Keeper
	bridge *Bridge
	events *event.Buffer
	net    *chaincfg.Params
	codec  SS58Codec

	trusteeKeys []*btcec.PrivateKey
	trustees    []primitives.AccountID

	blocks map[string]*wire.MsgBlock
	seq    uint32
}

func newFixture(t *testing.T) *fixture {
	kv, err := database.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	net := &chaincfg.RegressionNetParams
	store := database.NewStore(kv)
	events := &event.Buffer{}

	ledger := assets.NewLedger(store, assets.Config{Sink: events})
	require.NoError(t, ledger.RegisterAsset(assets.Asset{
		Token: assets.DefaultNativeToken, TokenName: "PCX", Chain: primitives.ChainNative,
	}, true))
	require.NoError(t, ledger.RegisterAsset(assets.Asset{
		Token: DefaultToken, TokenName: "X-BTC", Chain: primitives.ChainBitcoin, Precision: 8,
	}, true))

	keeper := records.NewKeeper(store, ledger, records.Config{
		Validators: map[primitives.Chain]records.AddressValidator{
			primitives.ChainBitcoin: AddressValidator{Net: net},
		},
		Locker: Locker{Store: store},
		Sink:   events,
	})

	var (
		keys     []*btcec.PrivateKey
		pubs     []*btcutil.AddressPubKey
		trustees []primitives.AccountID
	)
	for i := 0; i < 3; i++ {
		key, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		pub, err := btcutil.NewAddressPubKey(key.PubKey().SerializeCompressed(), net)
		require.NoError(t, err)
		keys = append(keys, key)
		pubs = append(pubs, pub)
		trustees = append(trustees, primitives.AccountID{0xf0, byte(i)})
	}
	redeem, err := txscript.MultiSigScript(pubs, 2)
	require.NoError(t, err)
	trustee, err := NewTrustee(redeem, net)
	require.NoError(t, err)

	params := Params{
		Net:           net,
		Trustee:       trustee,
		Trustees:      trustees,
		Token:         DefaultToken,
		Confirmations: 3,
	}
	require.NoError(t, params.Validate())

	codec := SS58Codec{Version: DefaultAddressVersion}
	b := NewBridge(store, keeper, Config{Params: params, Codec: codec, Sink: events})

	return &fixture{
		kv:          kv,
		store:       store,
		ledger:      ledger,
		keeper:      keeper,
		bridge:      b,
		events:      events,
		net:         net,
		codec:       codec,
		trusteeKeys: keys,
		trustees:    trustees,
		blocks:      make(map[string]*wire.MsgBlock),
	}
}

func (f *fixture) next() uint32 {
	f.seq++
	return f.seq
}

// newAddress returns a fresh P2PKH address with its output script.
func (f *fixture) newAddress(t *testing.T) (btcutil.Address, []byte) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), f.net)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return addr, pkScript
}

// fundingTx pays value to pkScript out of nowhere.
func (f *fixture) fundingTx(pkScript []byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0xee, byte(f.next())}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	return tx
}

// spendTx spends output zero of prev into a trustee output of value and an
// optional OP_RETURN payload.
func (f *fixture) spendTx(t *testing.T, prev *wire.MsgTx, value int64, payload []byte) *wire.MsgTx {
	prevHash := prev.TxHash()
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	if value > 0 {
		tx.AddTxOut(wire.NewTxOut(value, f.bridge.params.Trustee.PkScript))
	}
	if payload != nil {
		script, err := txscript.NullDataScript(payload)
		require.NoError(t, err)
		tx.AddTxOut(wire.NewTxOut(0, script))
	}
	return tx
}

// storeBlock stores a main chain header whose merkle root commits to txs
// plus a leading filler transaction.
func (f *fixture) storeBlock(t *testing.T, confirmed bool, txs ...*wire.MsgTx) string {
	n := f.next()

	filler := wire.NewMsgTx(1)
	filler.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), []byte{byte(n)}, nil))
	filler.AddTxOut(wire.NewTxOut(50, []byte{txscript.OP_TRUE}))

	block := &wire.MsgBlock{}
	block.AddTransaction(filler)
	for _, tx := range txs {
		block.AddTransaction(tx)
	}

	utilTxs := make([]*btcutil.Tx, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		utilTxs = append(utilTxs, btcutil.NewTx(tx))
	}
	merkles := blockchain.BuildMerkleTreeStore(utilTxs, false)
	block.Header = wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{0xbb, byte(n)},
		MerkleRoot: *merkles[len(merkles)-1],
		Timestamp:  time.Unix(1600000000+int64(n)*600, 0),
		Bits:       0x207fffff,
		Nonce:      n,
	}

	hash := block.Header.BlockHash().String()
	info, err := database.NewBlockHeaderInfo(&block.Header, n)
	require.NoError(t, err)
	info.Confirmed = confirmed
	require.NoError(t, f.store.PutBlockHeader(hash, info))
	require.NoError(t, f.store.SetNumberForHash(hash, n))
	require.NoError(t, f.store.AddBlockHashFor(n, hash))

	f.blocks[hash] = block
	return hash
}

// proof builds the merkleblock message of the stored block matching tx.
func (f *fixture) proof(t *testing.T, blockHash string, tx *wire.MsgTx) []byte {
	block, ok := f.blocks[blockHash]
	require.True(t, ok)

	filter := bloom.NewFilter(1, 0, 0.0001, wire.BloomUpdateNone)
	txHash := tx.TxHash()
	filter.AddHash(&txHash)
	msg, _ := bloom.NewMerkleBlock(btcutil.NewBlock(block), filter)
	return encodeMerkleBlock(t, msg)
}

func (f *fixture) relay(t *testing.T, blockHash string, tx, prev *wire.MsgTx) *RelayTx {
	raw, err := encodeTx(tx)
	require.NoError(t, err)
	prevRaw, err := encodeTx(prev)
	require.NoError(t, err)
	return &RelayTx{
		BlockHash:     blockHash,
		RawTx:         raw,
		MerkleProof:   f.proof(t, blockHash, tx),
		PreviousRawTx: prevRaw,
	}
}

// fundTrustee confirms a deposit of value from a fresh address bound to
// who and returns the deposit.
func (f *fixture) fundTrustee(t *testing.T, who primitives.AccountID, value int64) *wire.MsgTx {
	_, sender := f.newAddress(t)
	prev := f.fundingTx(sender, value)
	tx := f.spendTx(t, prev, value, f.codec.EncodeAccount(who, ""))
	block := f.storeBlock(t, true, tx)

	typ, err := f.bridge.PushTransaction(f.relay(t, block, tx, prev))
	require.NoError(t, err)
	require.Equal(t, database.TxTypeDeposit, typ)
	return tx
}

func (f *fixture) free(t *testing.T, who primitives.AccountID) uint64 {
	v, err := f.ledger.FreeBalance(who, DefaultToken)
	require.NoError(t, err)
	return v
}

func (f *fixture) dump(t *testing.T) map[string]string {
	out := make(map[string]string)
	require.NoError(t, f.kv.Iterate(nil, func(k, v []byte) error {
		out[string(k)] = string(v)
		return nil
	}))
	return out
}

// sign adds signatures of keys to every input of a copy of tx.
func (f *fixture) sign(t *testing.T, tx *wire.MsgTx, keys ...*btcec.PrivateKey) *wire.MsgTx {
	redeem := f.bridge.params.Trustee.RedeemScript
	signed := tx.Copy()
	for i := range signed.TxIn {
		builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
		for _, key := range keys {
			sig, err := txscript.RawTxInSignature(tx, i, redeem, txscript.SigHashAll, key)
			require.NoError(t, err)
			builder.AddData(sig)
		}
		script, err := builder.AddData(redeem).Script()
		require.NoError(t, err)
		signed.TxIn[i].SignatureScript = script
	}
	return signed
}

// cosign adds the signature of key to every input of the stored proposal
// transaction, keeping the signatures in redeem script key order.
func (f *fixture) cosign(t *testing.T, stored *wire.MsgTx, key *btcec.PrivateKey) *wire.MsgTx {
	redeem := f.bridge.params.Trustee.RedeemScript
	pubs := f.bridge.params.Trustee.PubKeys
	signed := stored.Copy()
	for i, in := range signed.TxIn {
		bySlot := make(map[int][]byte)
		if len(in.SignatureScript) > 0 {
			sigs, err := parseMultisigScriptSig(in.SignatureScript, redeem)
			require.NoError(t, err)
			hash, err := txscript.CalcSignatureHash(redeem, txscript.SigHashAll, stored, i)
			require.NoError(t, err)
			slots, err := matchTrusteeSigs(sigs, hash, pubs)
			require.NoError(t, err)
			for j, k := range slots {
				bySlot[k] = sigs[j]
			}
		}

		sig, err := txscript.RawTxInSignature(stored, i, redeem, txscript.SigHashAll, key)
		require.NoError(t, err)
		for k, pub := range pubs {
			if pub.IsEqual(key.PubKey()) {
				bySlot[k] = sig
			}
		}

		builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
		for k := range pubs {
			if sig, ok := bySlot[k]; ok {
				builder.AddData(sig)
			}
		}
		script, err := builder.AddData(redeem).Script()
		require.NoError(t, err)
		signed.TxIn[i].SignatureScript = script
	}
	return signed
}

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

func encodeMerkleBlock(t *testing.T, msg *wire.MsgMerkleBlock) []byte {
	var buf bytes.Buffer
	require.NoError(t, msg.BtcEncode(&buf, wire.ProtocolVersion, wire.BaseEncoding))
	return buf.Bytes()
}
