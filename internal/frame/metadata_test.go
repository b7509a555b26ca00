package frame

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkRIDListRespects50EntryLimit(t *testing.T) {
	rids := make([]uint32, 120)
	for i := range rids {
		rids[i] = uint32(1000 + i)
	}
	chunks := ChunkRIDList(rids)
	require.Len(t, chunks, 3)

	var total int
	for _, c := range chunks {
		count := binary.BigEndian.Uint32(c[0:4])
		require.LessOrEqual(t, count, uint32(ridChunkSize))
		total += int(count)
		require.Len(t, c, 4+4*int(count))
	}
	require.Equal(t, len(rids), total)
}

func TestChunkRIDListEmpty(t *testing.T) {
	chunks := ChunkRIDList(nil)
	require.Len(t, chunks, 1)
	require.Equal(t, uint32(0), binary.BigEndian.Uint32(chunks[0][0:4]))
}

func TestChunkTGListSlotFlags(t *testing.T) {
	entries := []TGSlotEntry{
		{TGID: 100, SlotFlags: 0},
		{TGID: 200, SlotFlags: 1 << 6},
		{TGID: 9990, SlotFlags: 1 << 7},
	}
	chunks := ChunkTGList(entries)
	require.Len(t, chunks, 1)
	body := chunks[0]
	count := binary.BigEndian.Uint32(body[0:4])
	require.Equal(t, uint32(3), count)
	require.Equal(t, byte(1<<7), body[4+5*2+4])
}

func TestChunkHAList(t *testing.T) {
	entries := []HAEntry{
		{PeerID: 1, IPv4: 0x0A0A0001, Port: 62031},
	}
	chunks := ChunkHAList(entries)
	require.Len(t, chunks, 1)
	body := chunks[0]
	require.Equal(t, uint32(1), binary.BigEndian.Uint32(body[0:4]))
	require.Equal(t, uint32(1), binary.BigEndian.Uint32(body[4:8]))
	require.Equal(t, uint32(0x0A0A0001), binary.BigEndian.Uint32(body[8:12]))
	require.Equal(t, uint16(62031), binary.BigEndian.Uint16(body[12:14]))
}
