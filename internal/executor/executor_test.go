package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/tasks"
	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/wire"
)

const easyBits = 0x207fffff

func mineHeader(t *testing.T, prev model.Hash, nonceSeed uint32) model.IndexedHeader {
	t.Helper()
	raw := model.RawHeader{Version: 1, PrevHash: prev, Bits: easyBits, Time: 1_600_000_000, Nonce: nonceSeed}
	for n := nonceSeed; n < nonceSeed+2_000_000; n++ {
		raw.Nonce = n
		h := model.NewIndexedHeader(raw)
		if model.HashMeetsTarget(h.Hash, easyBits) {
			return h
		}
	}
	t.Fatal("failed to mine header meeting easy target")
	return model.IndexedHeader{}
}

type fakeSender struct {
	sent []sentMessage
}

type sentMessage struct {
	peer chain.PeerID
	msg  wire.Message
}

func (f *fakeSender) SendMessage(peer chain.PeerID, msg wire.Message) error {
	f.sent = append(f.sent, sentMessage{peer: peer, msg: msg})
	return nil
}

func TestRequestHeadersSendsLocatorFromChainTip(t *testing.T) {
	genesis := mineHeader(t, model.ZeroHash, 0)
	c := chain.New(genesis, consensusiface.NewDefault(), 0, nil)
	sender := &fakeSender{}
	e := New(sender, c, nil)

	require.NoError(t, e.RequestHeaders(chain.PeerID(1)))
	require.Len(t, sender.sent, 1)
	gh, ok := sender.sent[0].msg.(wire.MsgGetHeaders)
	require.True(t, ok)
	require.Equal(t, genesis.Hash, gh.Locator.Hashes[len(gh.Locator.Hashes)-1])
	require.Equal(t, genesis.Hash, gh.Locator.Hashes[0])
}

func TestExecuteBatchesGetDataByPeer(t *testing.T) {
	genesis := mineHeader(t, model.ZeroHash, 0)
	c := chain.New(genesis, consensusiface.NewDefault(), 0, nil)
	sender := &fakeSender{}
	e := New(sender, c, nil)

	h1 := mineHeader(t, genesis.Hash, 1_000_000)
	h2 := mineHeader(t, genesis.Hash, 2_000_000)
	assignments := []tasks.Assignment{
		{Item: tasks.Item{Hash: h1.Hash, Kind: tasks.KindBlock}, Peer: chain.PeerID(1), Deadline: time.Now()},
		{Item: tasks.Item{Hash: h2.Hash, Kind: tasks.KindBlock}, Peer: chain.PeerID(1), Deadline: time.Now()},
		{Item: tasks.Item{Hash: h1.Hash, Kind: tasks.KindHeader}, Peer: chain.PeerID(2), Deadline: time.Now()},
	}

	require.NoError(t, e.Execute(assignments))
	require.Len(t, sender.sent, 1) // the header-kind assignment isn't a getdata

	gd, ok := sender.sent[0].msg.(wire.MsgGetData)
	require.True(t, ok)
	require.Equal(t, chain.PeerID(1), sender.sent[0].peer)
	require.Len(t, gd.Items, 2)
	for _, item := range gd.Items {
		require.True(t, item.Type.IsBlockKind())
	}
}

func TestRequestMempoolSendsBareMessage(t *testing.T) {
	genesis := mineHeader(t, model.ZeroHash, 0)
	c := chain.New(genesis, consensusiface.NewDefault(), 0, nil)
	sender := &fakeSender{}
	e := New(sender, c, nil)

	require.NoError(t, e.RequestMempool(chain.PeerID(3)))
	require.Len(t, sender.sent, 1)
	_, ok := sender.sent[0].msg.(wire.MsgMempool)
	require.True(t, ok)
}

func TestPingSendsNonce(t *testing.T) {
	genesis := mineHeader(t, model.ZeroHash, 0)
	c := chain.New(genesis, consensusiface.NewDefault(), 0, nil)
	sender := &fakeSender{}
	e := New(sender, c, nil)

	require.NoError(t, e.Ping(chain.PeerID(4), 42))
	require.Len(t, sender.sent, 1)
	ping, ok := sender.sent[0].msg.(wire.MsgPing)
	require.True(t, ok)
	require.Equal(t, uint64(42), ping.Nonce)
}
