package otar

import (
	"bytes"
	"testing"

	"github.com/lorenzolrom/dvmhost-sub000/internal/acl"
	"github.com/lorenzolrom/dvmhost-sub000/internal/ciphers"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{MessageID: MsgHello, MfID: 0x01, SrcLLID: 0x112233, DstLLID: 0x445566, Body: []byte{1, 2, 3}}
	back, err := DecodeFrame(f.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(back.Body, f.Body) {
		t.Fatalf("round trip body mismatch: %+v vs %+v", f, back)
	}
	if back.SrcLLID != f.SrcLLID || back.DstLLID != f.DstLLID || back.MessageID != f.MessageID {
		t.Fatalf("round trip field mismatch: %+v vs %+v", f, back)
	}
}

func TestModifyKeyEncodeDecodeRoundTrip(t *testing.T) {
	mk := ModifyKey{
		RSI: 0xABCDEF,
		Items: []KeyItem{
			{AlgID: ciphers.AlgIDAES256, KeyID: 1, KeyData: bytes.Repeat([]byte{0x11}, 32)},
			{AlgID: ciphers.AlgIDAES256, KeyID: 2, KeyData: bytes.Repeat([]byte{0x22}, 32)},
		},
	}
	back, err := DecodeModifyKey(mk.Encode(false), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.RSI != mk.RSI || len(back.Items) != len(mk.Items) {
		t.Fatalf("round trip mismatch: %+v vs %+v", mk, back)
	}
	for i := range mk.Items {
		if back.Items[i].KeyID != mk.Items[i].KeyID || !bytes.Equal(back.Items[i].KeyData, mk.Items[i].KeyData) {
			t.Fatalf("item %d mismatch: %+v vs %+v", i, mk.Items[i], back.Items[i])
		}
	}
}

func TestDatagramKMMBodyRoundTrip(t *testing.T) {
	var tek [32]byte
	copy(tek[:], bytes.Repeat([]byte{0x42}, 32))
	var mi ciphers.MI
	copy(mi[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})

	plaintext := []byte("hello kmm payload")
	cipherBytes, err := EncryptKMMBody(plaintext, tek, mi)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := Datagram{MfID: 0x01, AlgID: ciphers.AlgIDAES256, KeyID: 7, MI: mi, KMMBody: cipherBytes}
	decoded, err := DecodeDatagram(d.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recovered, err := DecryptKMMBody(decoded, tek)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(recovered, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, recovered)
	}
}

func TestDatagramUnencryptedPassesThrough(t *testing.T) {
	d := Datagram{MfID: MfIDUnencrypted, KMMBody: []byte("plain")}
	var tek [32]byte
	body, err := DecryptKMMBody(d, tek)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(body, []byte("plain")) {
		t.Fatalf("expected passthrough body")
	}
}

func TestHandleHelloDefaultsToNoService(t *testing.T) {
	snap := acl.NewSnapshot()
	svc := NewService(snap, snap, nil, nil, nil)
	reject, cmd, _ := svc.HandleHello(1, 100)
	if reject != RejectNoService || cmd != nil {
		t.Fatalf("expected HELLO to be rejected NoService by default")
	}
}

func TestHandleDeregCmdRespondsPerformedWhenEnabled(t *testing.T) {
	svc := NewService(acl.NewSnapshot(), acl.NewSnapshot(), nil, nil, nil)
	svc.KMFServicesEnabled = true
	resp := svc.HandleDeregCmd(0x1, 0x2)
	if resp.MessageID != MsgDeregResponse || resp.Body[0] != byte(CmdPerformed) {
		t.Fatalf("expected Dereg_Response/CMD_PERFORMED, got %+v", resp)
	}
}

func TestHandleDeregCmdNoServiceWhenDisabled(t *testing.T) {
	svc := NewService(acl.NewSnapshot(), acl.NewSnapshot(), nil, nil, nil)
	resp := svc.HandleDeregCmd(0x1, 0x2)
	if resp.MessageID != MsgNak || resp.Body[0] != byte(RejectNoService) {
		t.Fatalf("expected NAK/NoService when KMF services disabled, got %+v", resp)
	}
}

func TestBuildRekeyCommandWrapsWithUKEK(t *testing.T) {
	snap := acl.NewSnapshot()
	var tek [32]byte
	copy(tek[:], bytes.Repeat([]byte{0x11}, 32))
	snap.TEKs[1] = tek
	var ukek [32]byte
	copy(ukek[:], bytes.Repeat([]byte{0x22}, 32))
	snap.UKEKs[42] = ukek

	svc := NewService(snap, snap, nil, nil, nil)
	mk, wrapped, err := svc.BuildRekeyCommand(42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !wrapped {
		t.Fatalf("expected keys to be wrapped when a UKEK is available")
	}
	if len(mk.Items) != 1 || len(mk.Items[0].KeyData) != 40 {
		t.Fatalf("expected one wrapped 40-byte key item, got %+v", mk.Items)
	}

	unwrapped, err := ciphers.KeyUnwrapAES256(mk.Items[0].KeyData, ukek)
	if err != nil {
		t.Fatalf("unexpected unwrap error: %v", err)
	}
	if !bytes.Equal(unwrapped, tek[:]) {
		t.Fatalf("expected unwrapped key to match original tek")
	}
}

func TestBuildRekeyCommandRejectsNoUKEKByDefault(t *testing.T) {
	snap := acl.NewSnapshot()
	var tek [32]byte
	snap.TEKs[1] = tek
	svc := NewService(snap, snap, nil, nil, nil)
	if _, _, err := svc.BuildRekeyCommand(99); err == nil {
		t.Fatalf("expected error when no UKEK is provisioned and AllowNoUKEKRekey is false")
	}
}

type fakeUpstream struct {
	forwarded []uint16
}

func (u *fakeUpstream) ForwardKeyRequest(kid uint16) error {
	u.forwarded = append(u.forwarded, kid)
	return nil
}

type fakeReply struct {
	sent map[uint32]Frame
}

func (r *fakeReply) SendKeyResponse(peerID uint32, f Frame) error {
	if r.sent == nil {
		r.sent = make(map[uint32]Frame)
	}
	r.sent[peerID] = f
	return nil
}

func TestHandleKeyRequestMissForwardsAndQueues(t *testing.T) {
	snap := acl.NewSnapshot()
	snap.Peers[5] = acl.PeerACLEntry{PeerID: 5, Enabled: true, CanRequestKeys: true}
	up := &fakeUpstream{}
	reply := &fakeReply{}
	svc := NewService(snap, snap, up, reply, nil)

	resp, _, forwarded, err := svc.HandleKeyRequest(5, 9, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != nil || !forwarded {
		t.Fatalf("expected a miss to forward upstream with no local response")
	}
	if len(up.forwarded) != 1 || up.forwarded[0] != 9 {
		t.Fatalf("expected kid 9 forwarded upstream, got %v", up.forwarded)
	}

	if err := svc.OnUpstreamKeyResponse(9, Frame{MessageID: MsgKeyRsp}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reply.sent[5]; !ok {
		t.Fatalf("expected peer 5 to receive the flushed key response")
	}
}

func TestHandleKeyRequestDeniedWithoutACL(t *testing.T) {
	snap := acl.NewSnapshot()
	svc := NewService(snap, snap, nil, nil, nil)
	if _, _, _, err := svc.HandleKeyRequest(5, 9, 1); err == nil {
		t.Fatalf("expected key request to be denied without peer ACL permission")
	}
}
