// Package blockswriter implements the Blocks Writer (C8, §4.7): a
// single-threaded bulk-import pipeline for offline bootstrap from a
// contiguous block stream. Unlike live sync it performs full verification
// synchronously and writes in strict chain order; it is mutually exclusive
// with the Client Core (§4.7) by construction rather than by a runtime
// guard — cmd/btcsyncd's `import` and `start` are separate subcommands, so
// the two never run in the same process, mirroring the original's
// separate create_sync_blocks_writer/create_sync entry points
// (original_source/sync/src/lib.rs) rather than a single process
// toggling between modes.
package blockswriter

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/server"
	"github.com/btcsync-io/btcsyncd/internal/xlog"
	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/wire"
)

// ErrOutOfOrder is returned when a block in the stream doesn't extend the
// chain built so far: a bulk stream is required to be contiguous, unlike
// live sync's tolerance for out-of-order arrival.
var ErrOutOfOrder = errors.New("blockswriter: block out of order in bulk stream")

// BlockSource yields blocks one at a time. Next returns io.EOF (wrapped or
// bare) once exhausted.
type BlockSource interface {
	Next() (model.IndexedBlock, error)
}

// StreamSource reads a sequence of length-prefixed, wire-encoded blocks
// from r: a 4-byte little-endian length followed by that many bytes of
// wire.MsgBlock.Encode() output. This is this module's own bulk-import
// framing, not a parser for Bitcoin Core's blk*.dat magic-byte format,
// since original_source's file-reading code wasn't part of the retrieved
// source (only sync/src/lib.rs's wiring was).
type StreamSource struct {
	r io.Reader
}

// NewStreamSource wraps r as a BlockSource.
func NewStreamSource(r io.Reader) *StreamSource {
	return &StreamSource{r: r}
}

func (s *StreamSource) Next() (model.IndexedBlock, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return model.IndexedBlock{}, errors.Wrap(io.ErrUnexpectedEOF, "truncated block length prefix")
		}
		return model.IndexedBlock{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return model.IndexedBlock{}, errors.Wrap(err, "truncated block body")
	}
	msg, err := wire.DecodeBlock(wire.NewReader(buf))
	if err != nil {
		return model.IndexedBlock{}, errors.Wrap(err, "decode block frame")
	}
	return msg.Block, nil
}

// Writer performs the bulk import.
type Writer struct {
	blocks    *server.BlockStore
	consensus consensusiface.Verifier
	log       xlog.Logger
}

// New constructs a Writer. blocks is where verified block bodies are
// persisted, shared with internal/server so the Server can answer getdata
// for bulk-imported blocks exactly as it would for live-synced ones.
func New(blocks *server.BlockStore, consensus consensusiface.Verifier, log xlog.Logger) *Writer {
	if log == nil {
		log = xlog.Discard
	}
	return &Writer{blocks: blocks, consensus: consensus, log: log}
}

// Import drains src, verifying and writing each block in turn against c, a
// Sync Chain seeded with the same genesis the live sync path will use.
// Reuses Chain's own InsertHeader/InsertBlock/OnBlockStored/MarkDeadEnd
// rather than duplicating chain-state bookkeeping: this pipeline simply
// performs verification synchronously in the caller instead of handing it
// to the Async Verifier, since there is no concurrent event stream to
// serialize against during a bulk import.
func (w *Writer) Import(src BlockSource, c *chain.Chain) (imported int, err error) {
	for {
		block, err := src.Next()
		if errors.Is(err, io.EOF) {
			return imported, nil
		}
		if err != nil {
			return imported, err
		}

		// InsertHeader only errors on a genuinely invalid header or an
		// orphan pool overflow; an unknown parent is silently buffered
		// instead, so it alone can't detect out-of-order arrival here.
		if _, _, _, err := c.InsertHeader(block.Header); err != nil {
			return imported, errors.Wrapf(err, "header %s", block.Header.Hash)
		}
		// A block whose header never made it past the orphan pool above
		// surfaces here as ActionOrphaned (still no error from InsertBlock
		// itself) rather than ActionEnqueueVerification: that's what
		// actually catches an out-of-order stream.
		result, err := c.InsertBlock(block)
		if err != nil {
			return imported, errors.Wrapf(err, "block %s", block.Header.Hash)
		}
		if result.Action != chain.ActionEnqueueVerification {
			return imported, errors.Wrapf(ErrOutOfOrder, "block %s", block.Header.Hash)
		}

		n, err := w.verifyAndStore(block, c)
		imported += n
		if err != nil {
			return imported, err
		}
	}
}

// verifyAndStore verifies block at Full level, persists it, advances c,
// and recurses into any children Chain had been holding pending block's
// arrival — a bulk stream is expected to be contiguous so this ordinarily
// drains zero or one child, but the recursion costs nothing to keep general.
func (w *Writer) verifyAndStore(block model.IndexedBlock, c *chain.Chain) (int, error) {
	_, height := c.BestStorageBlock()
	vctx := consensusiface.Context{Level: consensusiface.Full, TipHeight: height}
	if err := w.consensus.VerifyBlock(block, vctx); err != nil {
		c.MarkDeadEnd(block.Header.Hash)
		return 0, errors.Wrapf(err, "block %s failed verification", block.Header.Hash)
	}
	blockHeight, _ := c.HeightOf(block.Header.Hash)
	work, _ := c.WorkOf(block.Header.Hash)
	if err := w.blocks.Put(block, blockHeight, work); err != nil {
		return 0, errors.Wrapf(err, "persist block %s", block.Header.Hash)
	}

	count := 1
	for _, child := range c.OnBlockStored(block.Header.Hash) {
		n, err := w.verifyAndStore(child, c)
		count += n
		if err != nil {
			return count, err
		}
	}
	return count, nil
}
