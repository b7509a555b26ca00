package peer

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory store fake, substituted for Redis so the
// handshake state machine can be tested without a live dependency.
type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (f *fakeStore) set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeStore) get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[key]
	return b, ok, nil
}

func (f *fakeStore) del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeStore) scanKeys(_ context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func newTestEngine() *Engine {
	return &Engine{
		Table:          newTableWithStore(newFakeStore()),
		PeerACL:        acl.NewSnapshot(),
		GlobalPassword: "s3cr37w0rd",
		SoftCap:        200,
		HardCap:        250,
	}
}

func remoteAddr() net.UDPAddr {
	return net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 62031}
}

func TestHappyPathLoginAuthConfigPing(t *testing.T) {
	eng := newTestEngine()
	ctx := context.Background()
	addr := remoteAddr()

	loginRes, err := eng.Login(ctx, 1, addr)
	require.NoError(t, err)
	require.True(t, loginRes.Ack)
	salt := binary.BigEndian.Uint32(loginRes.AckBody)
	hash := saltedHash(salt, "s3cr37w0rd")

	authRes, err := eng.Authenticate(ctx, 1, addr, hash)
	require.NoError(t, err)
	require.True(t, authRes.Ack)

	cfgRes, err := eng.Configure(ctx, 1, addr, Config{Identity: "UNIT-1", RXFrequency: 851000000}, false)
	require.NoError(t, err)
	require.True(t, cfgRes.Ack)

	conn, ok, err := eng.Table.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateRunning, conn.State)

	pingRes, err := eng.Ping(ctx, 1, addr, 1234)
	require.NoError(t, err)
	require.True(t, pingRes.Ack)

	conn, _, err = eng.Table.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, conn.PingsReceived)
}

func TestAuthWrongPasswordNaks(t *testing.T) {
	eng := newTestEngine()
	ctx := context.Background()
	addr := remoteAddr()

	_, err := eng.Login(ctx, 2, addr)
	require.NoError(t, err)

	badHash := sha256.Sum256([]byte("wrong"))
	res, err := eng.Authenticate(ctx, 2, addr, badHash)
	require.NoError(t, err)
	require.False(t, res.Ack)
	require.True(t, res.Disconnect)
}

func TestConfigureBeforeAuthNaks(t *testing.T) {
	eng := newTestEngine()
	ctx := context.Background()
	addr := remoteAddr()

	_, err := eng.Login(ctx, 3, addr)
	require.NoError(t, err)

	// Skip auth entirely -- still WAITING_AUTH.
	res, err := eng.Configure(ctx, 3, addr, Config{}, false)
	require.NoError(t, err)
	require.True(t, res.Disconnect)
}

func TestWrongRemoteAddrUnauthorized(t *testing.T) {
	eng := newTestEngine()
	ctx := context.Background()
	addr := remoteAddr()

	_, err := eng.Login(ctx, 4, addr)
	require.NoError(t, err)

	other := net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 1}
	res, err := eng.Authenticate(ctx, 4, other, [32]byte{})
	require.NoError(t, err)
	require.True(t, res.Disconnect)
}

func TestPeerACLDisabledRejectsLogin(t *testing.T) {
	eng := newTestEngine()
	snap := acl.NewSnapshot()
	snap.Peers[5] = acl.PeerACLEntry{PeerID: 5, Enabled: false}
	eng.PeerACL = snap

	res, err := eng.Login(context.Background(), 5, remoteAddr())
	require.NoError(t, err)
	require.True(t, res.Disconnect)
}

func TestPeerACLPasswordOverride(t *testing.T) {
	eng := newTestEngine()
	snap := acl.NewSnapshot()
	snap.Peers[6] = acl.PeerACLEntry{PeerID: 6, Enabled: true, PasswordOverride: "override-pw"}
	eng.PeerACL = snap
	ctx := context.Background()
	addr := remoteAddr()

	loginRes, err := eng.Login(ctx, 6, addr)
	require.NoError(t, err)
	salt := binary.BigEndian.Uint32(loginRes.AckBody)

	// The global password must now fail...
	res, err := eng.Authenticate(ctx, 6, addr, saltedHash(salt, "s3cr37w0rd"))
	require.NoError(t, err)
	require.True(t, res.Disconnect)

	// ...only the override succeeds. Login again for a fresh salt.
	loginRes, err = eng.Login(ctx, 6, addr)
	require.NoError(t, err)
	salt = binary.BigEndian.Uint32(loginRes.AckBody)
	res, err = eng.Authenticate(ctx, 6, addr, saltedHash(salt, "override-pw"))
	require.NoError(t, err)
	require.True(t, res.Ack)
}

func TestHardCapRejectsNewLogin(t *testing.T) {
	eng := newTestEngine()
	eng.SoftCap = 1
	eng.HardCap = 1
	ctx := context.Background()

	_, err := eng.Login(ctx, 10, remoteAddr())
	require.NoError(t, err)

	res, err := eng.Login(ctx, 11, remoteAddr())
	require.NoError(t, err)
	require.True(t, res.Disconnect)
}

func TestDisconnectRemovesPeer(t *testing.T) {
	eng := newTestEngine()
	ctx := context.Background()

	_, err := eng.Login(ctx, 12, remoteAddr())
	require.NoError(t, err)
	require.NoError(t, eng.Disconnect(ctx, 12))

	_, ok, err := eng.Table.Get(ctx, 12)
	require.NoError(t, err)
	require.False(t, ok)
}
