package wire

import (
	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// Message is implemented by every payload type of §6.1. Command returns the
// 12-byte (here: unbounded string, the transport layer pads/truncates)
// command name used in the P2P message header; that header framing itself
// belongs to the P2P transport collaborator, not this package.
type Message interface {
	Command() string
	Encode() []byte
}

// Per-message list caps referenced by §4.6 and the boundary tests of §8.
const (
	MaxHeadersResult    = 2000
	MaxGetBlocksResult  = 500
	MaxLocatorHashes    = 101
	MaxGetDataItems     = InvMaxInventoryLen
	MaxNotFoundItems    = InvMaxInventoryLen
	MaxGetBlockTxnCount = 1 << 16
)

// --- version / verack -------------------------------------------------

// MsgVersion is the handshake payload; fields beyond what this core reads
// (services, user agent, start height) are carried opaquely.
type MsgVersion struct {
	ProtocolVersion int32
	Services        uint64
	Timestamp       int64
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	Relay           bool
}

func (MsgVersion) Command() string { return "version" }

func (m MsgVersion) Encode() []byte {
	w := NewWriter()
	w.putUint32(uint32(m.ProtocolVersion))
	w.putUint64(m.Services)
	w.putUint64(uint64(m.Timestamp))
	w.putUint64(m.Nonce)
	w.PutBytes([]byte(m.UserAgent))
	w.putUint32(uint32(m.StartHeight))
	relay := uint8(0)
	if m.Relay {
		relay = 1
	}
	w.putUint8(relay)
	return w.Bytes()
}

// DecodeVersion parses a MsgVersion payload.
func DecodeVersion(r *Reader) (MsgVersion, error) {
	var m MsgVersion
	var err error
	if m.ProtocolVersion, err = r.Int32(); err != nil {
		return m, err
	}
	if m.Services, err = r.Uint64(); err != nil {
		return m, err
	}
	ts, err := r.Uint64()
	if err != nil {
		return m, err
	}
	m.Timestamp = int64(ts)
	if m.Nonce, err = r.Uint64(); err != nil {
		return m, err
	}
	ua, err := r.Bytes(256)
	if err != nil {
		return m, err
	}
	m.UserAgent = string(ua)
	if m.StartHeight, err = r.Int32(); err != nil {
		return m, err
	}
	if r.Remaining() > 0 {
		relay, err := r.Uint8()
		if err != nil {
			return m, err
		}
		m.Relay = relay != 0
	}
	return m, nil
}

// MsgVerAck acknowledges a version handshake; it carries no payload.
type MsgVerAck struct{}

func (MsgVerAck) Command() string     { return "verack" }
func (MsgVerAck) Encode() []byte      { return nil }
func DecodeVerAck(*Reader) MsgVerAck { return MsgVerAck{} }

// --- ping / pong --------------------------------------------------------

// MsgPing/MsgPong carry a nonce that must round-trip, used by the executor
// to probe peer liveness independent of the task-deadline machinery.
type MsgPing struct{ Nonce uint64 }
type MsgPong struct{ Nonce uint64 }

func (MsgPing) Command() string { return "ping" }
func (m MsgPing) Encode() []byte {
	w := NewWriter()
	w.putUint64(m.Nonce)
	return w.Bytes()
}
func DecodePing(r *Reader) (MsgPing, error) {
	n, err := r.Uint64()
	return MsgPing{Nonce: n}, err
}

func (MsgPong) Command() string { return "pong" }
func (m MsgPong) Encode() []byte {
	w := NewWriter()
	w.putUint64(m.Nonce)
	return w.Bytes()
}
func DecodePong(r *Reader) (MsgPong, error) {
	n, err := r.Uint64()
	return MsgPong{Nonce: n}, err
}

// --- inv / getdata / notfound -------------------------------------------

// MsgInv announces items the sender has; MsgGetData requests their bodies;
// MsgNotFound answers a getdata for items the responder no longer has —
// §4.6 requires these be coalesced into a single notfound rather than one
// per missing item.
type MsgInv struct{ Items []InventoryVector }
type MsgGetData struct{ Items []InventoryVector }
type MsgNotFound struct{ Items []InventoryVector }

func (MsgInv) Command() string { return "inv" }
func (m MsgInv) Encode() []byte {
	w := NewWriter()
	EncodeInventoryVectors(w, m.Items)
	return w.Bytes()
}
func DecodeInv(r *Reader) (MsgInv, error) {
	items, err := DecodeInventoryVectors(r)
	return MsgInv{Items: items}, err
}

func (MsgGetData) Command() string { return "getdata" }
func (m MsgGetData) Encode() []byte {
	w := NewWriter()
	EncodeInventoryVectors(w, m.Items)
	return w.Bytes()
}
func DecodeGetData(r *Reader) (MsgGetData, error) {
	items, err := DecodeInventoryVectors(r)
	return MsgGetData{Items: items}, err
}

func (MsgNotFound) Command() string { return "notfound" }
func (m MsgNotFound) Encode() []byte {
	w := NewWriter()
	EncodeInventoryVectors(w, m.Items)
	return w.Bytes()
}
func DecodeNotFound(r *Reader) (MsgNotFound, error) {
	items, err := DecodeInventoryVectors(r)
	return MsgNotFound{Items: items}, err
}

// --- getheaders / headers / getblocks -----------------------------------

// Locator is a sparse list of hashes identifying the sender's chain
// position (GLOSSARY), newest-to-oldest, followed by a stop hash (the zero
// hash means "as many as the cap allows").
type Locator struct {
	Hashes   []model.Hash
	StopHash model.Hash
}

func (l Locator) encode(w *Writer) {
	WriteList(w, l.Hashes, func(w *Writer, h model.Hash) { w.PutHash(h) })
	w.PutHash(l.StopHash)
}

func decodeLocator(r *Reader) (Locator, error) {
	hashes, err := ReadListMax(r, MaxLocatorHashes, func(r *Reader) (model.Hash, error) { return r.Hash() })
	if err != nil {
		return Locator{}, err
	}
	stop, err := r.Hash()
	if err != nil {
		return Locator{}, err
	}
	return Locator{Hashes: hashes, StopHash: stop}, nil
}

// MsgGetHeaders requests up to MaxHeadersResult headers following the
// locator's best-known position (§4.6).
type MsgGetHeaders struct {
	Version int32
	Locator Locator
}

func (MsgGetHeaders) Command() string { return "getheaders" }
func (m MsgGetHeaders) Encode() []byte {
	w := NewWriter()
	w.putUint32(uint32(m.Version))
	m.Locator.encode(w)
	return w.Bytes()
}
func DecodeGetHeaders(r *Reader) (MsgGetHeaders, error) {
	v, err := r.Int32()
	if err != nil {
		return MsgGetHeaders{}, err
	}
	loc, err := decodeLocator(r)
	if err != nil {
		return MsgGetHeaders{}, err
	}
	return MsgGetHeaders{Version: v, Locator: loc}, nil
}

// MsgGetBlocks requests up to MaxGetBlocksResult block inventories.
type MsgGetBlocks struct {
	Version int32
	Locator Locator
}

func (MsgGetBlocks) Command() string { return "getblocks" }
func (m MsgGetBlocks) Encode() []byte {
	w := NewWriter()
	w.putUint32(uint32(m.Version))
	m.Locator.encode(w)
	return w.Bytes()
}
func DecodeGetBlocks(r *Reader) (MsgGetBlocks, error) {
	v, err := r.Int32()
	if err != nil {
		return MsgGetBlocks{}, err
	}
	loc, err := decodeLocator(r)
	if err != nil {
		return MsgGetBlocks{}, err
	}
	return MsgGetBlocks{Version: v, Locator: loc}, nil
}

func encodeRawHeader(w *Writer, h model.RawHeader) {
	w.buf = append(w.buf, h.Serialize()...)
	w.PutCompactInt(0) // txn_count, always 0 on the wire for a headers-only announcement
}

func decodeRawHeader(r *Reader) (model.RawHeader, error) {
	var zero model.RawHeader
	b, err := r.take(80)
	if err != nil {
		return zero, err
	}
	h := model.DeserializeHeader(b)
	if _, err := r.CompactInt(); err != nil { // discard txn_count
		return zero, err
	}
	return h, nil
}

// MsgHeaders is the response to getheaders: up to MaxHeadersResult headers.
type MsgHeaders struct {
	Headers []model.IndexedHeader
}

func (MsgHeaders) Command() string { return "headers" }
func (m MsgHeaders) Encode() []byte {
	w := NewWriter()
	WriteList(w, m.Headers, func(w *Writer, h model.IndexedHeader) { encodeRawHeader(w, h.Raw) })
	return w.Bytes()
}
func DecodeHeaders(r *Reader) (MsgHeaders, error) {
	raws, err := ReadListMax(r, MaxHeadersResult, decodeRawHeader)
	if err != nil {
		return MsgHeaders{}, err
	}
	headers := make([]model.IndexedHeader, len(raws))
	for i, raw := range raws {
		headers[i] = model.NewIndexedHeader(raw)
	}
	return MsgHeaders{Headers: headers}, nil
}

// --- tx / block ----------------------------------------------------------

func encodeOutPoint(w *Writer, o model.OutPoint) {
	w.PutHash(o.Hash)
	w.putUint32(o.Index)
}

func decodeOutPoint(r *Reader) (model.OutPoint, error) {
	h, err := r.Hash()
	if err != nil {
		return model.OutPoint{}, err
	}
	idx, err := r.Uint32()
	if err != nil {
		return model.OutPoint{}, err
	}
	return model.OutPoint{Hash: h, Index: idx}, nil
}

const maxScriptLen = 10_000

func encodeTxIn(w *Writer, in model.TxIn) {
	encodeOutPoint(w, in.PreviousOutput)
	w.PutBytes(in.SignatureScript)
	w.putUint32(in.Sequence)
}

func decodeTxIn(r *Reader) (model.TxIn, error) {
	op, err := decodeOutPoint(r)
	if err != nil {
		return model.TxIn{}, err
	}
	script, err := r.Bytes(maxScriptLen)
	if err != nil {
		return model.TxIn{}, err
	}
	seq, err := r.Uint32()
	if err != nil {
		return model.TxIn{}, err
	}
	return model.TxIn{PreviousOutput: op, SignatureScript: script, Sequence: seq}, nil
}

func encodeTxOut(w *Writer, out model.TxOut) {
	w.putUint64(uint64(out.Value))
	w.PutBytes(out.PubKeyScript)
}

func decodeTxOut(r *Reader) (model.TxOut, error) {
	v, err := r.Uint64()
	if err != nil {
		return model.TxOut{}, err
	}
	script, err := r.Bytes(maxScriptLen)
	if err != nil {
		return model.TxOut{}, err
	}
	return model.TxOut{Value: int64(v), PubKeyScript: script}, nil
}

// serializeLegacy encodes a transaction in the pre-segwit layout, the form
// whose double-hash is the legacy txid per BIP-141.
func serializeLegacy(w *Writer, t model.RawTransaction) {
	w.putUint32(uint32(t.Version))
	WriteList(w, t.Inputs, encodeTxIn)
	WriteList(w, t.Outputs, encodeTxOut)
	w.putUint32(t.LockTime)
}

// EncodeTransaction serializes t with the BIP-144 witness flag when any
// input carries witness data, and returns both the full serialization
// (for relay) and the legacy-only serialization (whose double-hash is the
// txid, per the model.NewIndexedTransaction contract).
func EncodeTransaction(t model.RawTransaction) (full, legacyForTxid []byte) {
	legacy := NewWriter()
	serializeLegacy(legacy, t)
	legacyForTxid = legacy.Bytes()

	if !t.HasWitness() {
		return legacyForTxid, legacyForTxid
	}

	w := NewWriter()
	w.putUint32(uint32(t.Version))
	w.putUint8(0x00) // marker
	w.putUint8(0x01) // flag
	WriteList(w, t.Inputs, encodeTxIn)
	WriteList(w, t.Outputs, encodeTxOut)
	for _, in := range t.Inputs {
		WriteList(w, in.Witness, func(w *Writer, item []byte) { w.PutBytes(item) })
	}
	w.putUint32(t.LockTime)
	return w.Bytes(), legacyForTxid
}

// DecodeTransaction parses a possibly-witness transaction and returns its
// IndexedTransaction, hashed over the legacy (txid) serialization.
func DecodeTransaction(r *Reader) (model.IndexedTransaction, error) {
	var zero model.IndexedTransaction
	version, err := r.Int32()
	if err != nil {
		return zero, err
	}

	marker, err := r.Uint8()
	if err != nil {
		return zero, err
	}
	witness := false
	if marker == 0x00 {
		flag, err := r.Uint8()
		if err != nil {
			return zero, err
		}
		if flag != 0x01 {
			return zero, ErrMalformed
		}
		witness = true
	} else {
		r.pos-- // not a witness marker, put the byte back as the input count
	}

	inputs, err := ReadListMax(r, MaxGetBlockTxnCount, decodeTxIn)
	if err != nil {
		return zero, err
	}
	outputs, err := ReadListMax(r, MaxGetBlockTxnCount, decodeTxOut)
	if err != nil {
		return zero, err
	}
	if witness {
		for i := range inputs {
			stack, err := ReadListMax(r, MaxGetBlockTxnCount, func(r *Reader) ([]byte, error) { return r.Bytes(maxScriptLen) })
			if err != nil {
				return zero, err
			}
			inputs[i].Witness = stack
		}
	}
	lockTime, err := r.Uint32()
	if err != nil {
		return zero, err
	}

	raw := model.RawTransaction{Version: version, Inputs: inputs, Outputs: outputs, LockTime: lockTime}
	_, legacyForTxid := EncodeTransaction(raw)
	return model.NewIndexedTransaction(raw, legacyForTxid), nil
}

// MsgTx carries a single transaction.
type MsgTx struct{ Tx model.IndexedTransaction }

func (MsgTx) Command() string { return "tx" }
func (m MsgTx) Encode() []byte {
	full, _ := EncodeTransaction(m.Tx.Raw)
	return full
}
func DecodeTx(r *Reader) (MsgTx, error) {
	tx, err := DecodeTransaction(r)
	return MsgTx{Tx: tx}, err
}

// MsgBlock carries a full header plus its transactions.
type MsgBlock struct{ Block model.IndexedBlock }

func (MsgBlock) Command() string { return "block" }
func (m MsgBlock) Encode() []byte {
	w := NewWriter()
	w.buf = append(w.buf, m.Block.Header.Raw.Serialize()...)
	w.PutCompactInt(uint64(len(m.Block.Transactions)))
	for _, tx := range m.Block.Transactions {
		full, _ := EncodeTransaction(tx.Raw)
		w.buf = append(w.buf, full...)
	}
	return w.Bytes()
}
func DecodeBlock(r *Reader) (MsgBlock, error) {
	hdrBytes, err := r.take(80)
	if err != nil {
		return MsgBlock{}, err
	}
	header := model.NewIndexedHeader(model.DeserializeHeader(hdrBytes))
	n, err := r.CompactInt()
	if err != nil {
		return MsgBlock{}, err
	}
	if n > MaxGetBlockTxnCount {
		return MsgBlock{}, ErrMalformed
	}
	txs := make([]model.IndexedTransaction, 0, n)
	for i := uint64(0); i < n; i++ {
		tx, err := DecodeTransaction(r)
		if err != nil {
			return MsgBlock{}, err
		}
		txs = append(txs, tx)
	}
	return MsgBlock{Block: model.IndexedBlock{Header: header, Transactions: txs}}, nil
}

// --- mempool / sendheaders / feefilter -----------------------------------

// MsgMempool requests an inventory of the peer's mempool transactions.
type MsgMempool struct{}

func (MsgMempool) Command() string       { return "mempool" }
func (MsgMempool) Encode() []byte        { return nil }
func DecodeMempool(*Reader) MsgMempool { return MsgMempool{} }

// MsgSendHeaders asks the peer to announce new blocks via "headers" rather
// than "inv" (the near-tip policy of §4.3 relies on peers honoring this).
type MsgSendHeaders struct{}

func (MsgSendHeaders) Command() string { return "sendheaders" }
func (MsgSendHeaders) Encode() []byte  { return nil }
func DecodeSendHeaders(*Reader) MsgSendHeaders { return MsgSendHeaders{} }

// MsgFeeFilter advertises a minimum fee-rate (satoshis/kvB) below which the
// sender does not want relayed transaction invs.
type MsgFeeFilter struct{ FeeRateSatPerKvB int64 }

func (MsgFeeFilter) Command() string { return "feefilter" }
func (m MsgFeeFilter) Encode() []byte {
	w := NewWriter()
	w.putUint64(uint64(m.FeeRateSatPerKvB))
	return w.Bytes()
}
func DecodeFeeFilter(r *Reader) (MsgFeeFilter, error) {
	v, err := r.Uint64()
	return MsgFeeFilter{FeeRateSatPerKvB: int64(v)}, err
}

// --- compact blocks (BIP-152) --------------------------------------------

// MsgSendCmpct negotiates compact-block relay (§4.3's near-tip policy
// prefers it). Version 2 implies witness-carrying compact blocks.
type MsgSendCmpct struct {
	Announce bool
	Version  uint64
}

func (MsgSendCmpct) Command() string { return "sendcmpct" }
func (m MsgSendCmpct) Encode() []byte {
	w := NewWriter()
	announce := uint8(0)
	if m.Announce {
		announce = 1
	}
	w.putUint8(announce)
	w.putUint64(m.Version)
	return w.Bytes()
}
func DecodeSendCmpct(r *Reader) (MsgSendCmpct, error) {
	a, err := r.Uint8()
	if err != nil {
		return MsgSendCmpct{}, err
	}
	v, err := r.Uint64()
	if err != nil {
		return MsgSendCmpct{}, err
	}
	return MsgSendCmpct{Announce: a != 0, Version: v}, nil
}

// MsgCmpctBlock is a compact-block announcement: header plus a short-ID
// encoding of the transactions the sender believes the receiver already
// has, and any prefilled transactions (at minimum, the coinbase).
type MsgCmpctBlock struct {
	Header           model.IndexedHeader
	Nonce            uint64
	ShortIDs         []uint64
	PrefilledTxIndex []uint64
	PrefilledTx      []model.IndexedTransaction
}

func (MsgCmpctBlock) Command() string { return "cmpctblock" }
func (m MsgCmpctBlock) Encode() []byte {
	w := NewWriter()
	w.buf = append(w.buf, m.Header.Raw.Serialize()...)
	w.putUint64(m.Nonce)
	WriteList(w, m.ShortIDs, func(w *Writer, id uint64) { w.putUint64(id) })
	WriteList(w, m.PrefilledTxIndex, func(w *Writer, idx uint64) { w.PutCompactInt(idx) })
	for _, tx := range m.PrefilledTx {
		full, _ := EncodeTransaction(tx.Raw)
		w.buf = append(w.buf, full...)
	}
	return w.Bytes()
}
func DecodeCmpctBlock(r *Reader) (MsgCmpctBlock, error) {
	hdrBytes, err := r.take(80)
	if err != nil {
		return MsgCmpctBlock{}, err
	}
	nonce, err := r.Uint64()
	if err != nil {
		return MsgCmpctBlock{}, err
	}
	shortIDs, err := ReadListMax(r, MaxGetBlockTxnCount, func(r *Reader) (uint64, error) { return r.Uint64() })
	if err != nil {
		return MsgCmpctBlock{}, err
	}
	indices, err := ReadListMax(r, MaxGetBlockTxnCount, func(r *Reader) (uint64, error) { return r.CompactInt() })
	if err != nil {
		return MsgCmpctBlock{}, err
	}
	prefilled := make([]model.IndexedTransaction, 0, len(indices))
	for range indices {
		tx, err := DecodeTransaction(r)
		if err != nil {
			return MsgCmpctBlock{}, err
		}
		prefilled = append(prefilled, tx)
	}
	return MsgCmpctBlock{
		Header:           model.NewIndexedHeader(model.DeserializeHeader(hdrBytes)),
		Nonce:            nonce,
		ShortIDs:         shortIDs,
		PrefilledTxIndex: indices,
		PrefilledTx:      prefilled,
	}, nil
}

// MsgGetBlockTxn requests the transactions a compact block's recipient
// could not resolve locally by short ID.
type MsgGetBlockTxn struct {
	BlockHash model.Hash
	Indices   []uint64
}

func (MsgGetBlockTxn) Command() string { return "getblocktxn" }
func (m MsgGetBlockTxn) Encode() []byte {
	w := NewWriter()
	w.PutHash(m.BlockHash)
	WriteList(w, m.Indices, func(w *Writer, idx uint64) { w.PutCompactInt(idx) })
	return w.Bytes()
}
func DecodeGetBlockTxn(r *Reader) (MsgGetBlockTxn, error) {
	h, err := r.Hash()
	if err != nil {
		return MsgGetBlockTxn{}, err
	}
	indices, err := ReadListMax(r, MaxGetBlockTxnCount, func(r *Reader) (uint64, error) { return r.CompactInt() })
	if err != nil {
		return MsgGetBlockTxn{}, err
	}
	return MsgGetBlockTxn{BlockHash: h, Indices: indices}, nil
}

// MsgBlockTxn answers a getblocktxn.
type MsgBlockTxn struct {
	BlockHash model.Hash
	Txs       []model.IndexedTransaction
}

func (MsgBlockTxn) Command() string { return "blocktxn" }
func (m MsgBlockTxn) Encode() []byte {
	w := NewWriter()
	w.PutHash(m.BlockHash)
	w.PutCompactInt(uint64(len(m.Txs)))
	for _, tx := range m.Txs {
		full, _ := EncodeTransaction(tx.Raw)
		w.buf = append(w.buf, full...)
	}
	return w.Bytes()
}
func DecodeBlockTxn(r *Reader) (MsgBlockTxn, error) {
	h, err := r.Hash()
	if err != nil {
		return MsgBlockTxn{}, err
	}
	n, err := r.CompactInt()
	if err != nil {
		return MsgBlockTxn{}, err
	}
	if n > MaxGetBlockTxnCount {
		return MsgBlockTxn{}, ErrMalformed
	}
	txs := make([]model.IndexedTransaction, 0, n)
	for i := uint64(0); i < n; i++ {
		tx, err := DecodeTransaction(r)
		if err != nil {
			return MsgBlockTxn{}, err
		}
		txs = append(txs, tx)
	}
	return MsgBlockTxn{BlockHash: h, Txs: txs}, nil
}

// --- merkleblock / reject --------------------------------------------------

// MsgMerkleBlock is a header plus a partial merkle tree proving a filtered
// set of transactions are included; this core relays it opaquely (SPV
// filtering policy is out of scope) but still needs it to round-trip.
type MsgMerkleBlock struct {
	Header     model.IndexedHeader
	TxCount    uint32
	Hashes     []model.Hash
	FlagBytes  []byte
}

func (MsgMerkleBlock) Command() string { return "merkleblock" }
func (m MsgMerkleBlock) Encode() []byte {
	w := NewWriter()
	w.buf = append(w.buf, m.Header.Raw.Serialize()...)
	w.putUint32(m.TxCount)
	WriteList(w, m.Hashes, func(w *Writer, h model.Hash) { w.PutHash(h) })
	w.PutBytes(m.FlagBytes)
	return w.Bytes()
}
func DecodeMerkleBlock(r *Reader) (MsgMerkleBlock, error) {
	hdrBytes, err := r.take(80)
	if err != nil {
		return MsgMerkleBlock{}, err
	}
	txCount, err := r.Uint32()
	if err != nil {
		return MsgMerkleBlock{}, err
	}
	hashes, err := ReadListMax(r, MaxHeadersResult, func(r *Reader) (model.Hash, error) { return r.Hash() })
	if err != nil {
		return MsgMerkleBlock{}, err
	}
	flags, err := r.Bytes(maxScriptLen)
	if err != nil {
		return MsgMerkleBlock{}, err
	}
	return MsgMerkleBlock{
		Header:    model.NewIndexedHeader(model.DeserializeHeader(hdrBytes)),
		TxCount:   txCount,
		Hashes:    hashes,
		FlagBytes: flags,
	}, nil
}

// RejectCode classifies why a peer rejected a prior message (informational
// only; this core does not require reject to act).
type RejectCode uint8

// MsgReject reports a peer-side rejection of a previously sent message.
type MsgReject struct {
	Message string
	Code    RejectCode
	Reason  string
	Data    model.Hash
}

func (MsgReject) Command() string { return "reject" }
func (m MsgReject) Encode() []byte {
	w := NewWriter()
	w.PutBytes([]byte(m.Message))
	w.putUint8(uint8(m.Code))
	w.PutBytes([]byte(m.Reason))
	w.PutHash(m.Data)
	return w.Bytes()
}
func DecodeReject(r *Reader) (MsgReject, error) {
	msg, err := r.Bytes(12)
	if err != nil {
		return MsgReject{}, err
	}
	code, err := r.Uint8()
	if err != nil {
		return MsgReject{}, err
	}
	reason, err := r.Bytes(maxScriptLen)
	if err != nil {
		return MsgReject{}, err
	}
	data, err := r.Hash()
	if err != nil {
		return MsgReject{}, err
	}
	return MsgReject{Message: string(msg), Code: RejectCode(code), Reason: string(reason), Data: data}, nil
}
