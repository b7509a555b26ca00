package calls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestApplyTransitionNewCall(t *testing.T) {
	updated, outcome := ApplyTransition(CallStatus{}, false, Incoming{SrcID: 1, PeerID: 2, SSRC: 3, StreamID: 4}, baseTime, 2*time.Second)
	require.Equal(t, OutcomeNewCall, outcome)
	require.True(t, updated.Active)
	require.Equal(t, uint32(1), updated.SrcID)
	require.Equal(t, baseTime, updated.CallStartTime)
}

func TestApplyTransitionSameStreamUpdatesLastPacket(t *testing.T) {
	existing := CallStatus{Active: true, SrcID: 1, StreamID: 4, LastPacketTime: baseTime}
	later := baseTime.Add(100 * time.Millisecond)
	updated, outcome := ApplyTransition(existing, true, Incoming{SrcID: 1, StreamID: 4}, later, 2*time.Second)
	require.Equal(t, OutcomeSameCall, outcome)
	require.Equal(t, later, updated.LastPacketTime)
}

func TestApplyTransitionSwitchOverSameSource(t *testing.T) {
	existing := CallStatus{Active: true, SrcID: 1, StreamID: 4, LastPacketTime: baseTime}
	updated, outcome := ApplyTransition(existing, true, Incoming{SrcID: 1, StreamID: 5, SSRC: 9}, baseTime, 2*time.Second)
	require.Equal(t, OutcomeSwitchOver, outcome)
	require.Equal(t, uint32(5), updated.StreamID)
}

func TestApplyTransitionSwitchOverBit(t *testing.T) {
	existing := CallStatus{Active: true, SrcID: 1, StreamID: 4, LastPacketTime: baseTime}
	updated, outcome := ApplyTransition(existing, true, Incoming{SrcID: 2, StreamID: 5, SwitchOver: true}, baseTime, 2*time.Second)
	require.Equal(t, OutcomeSwitchOver, outcome)
	require.Equal(t, uint32(2), updated.SrcID)
}

func TestApplyTransitionTakeoverFlagConsumed(t *testing.T) {
	existing := CallStatus{Active: true, SrcID: 1, StreamID: 4, LastPacketTime: baseTime, CallTakeover: true}
	updated, outcome := ApplyTransition(existing, true, Incoming{SrcID: 2, StreamID: 5}, baseTime, 2*time.Second)
	require.Equal(t, OutcomeTakeover, outcome)
	require.Equal(t, uint32(2), updated.SrcID)
	require.False(t, updated.CallTakeover)
}

func TestApplyTransitionSilentRecoveryAfterTimeout(t *testing.T) {
	existing := CallStatus{Active: true, SrcID: 1, StreamID: 4, LastPacketTime: baseTime}
	later := baseTime.Add(3 * time.Second)
	updated, outcome := ApplyTransition(existing, true, Incoming{SrcID: 2, StreamID: 5}, later, 2*time.Second)
	require.Equal(t, OutcomeSilentRecovery, outcome)
	require.Equal(t, uint32(2), updated.SrcID)
}

func TestApplyTransitionPriorityPreempt(t *testing.T) {
	existing := CallStatus{Active: true, SrcID: 1, StreamID: 4, LastPacketTime: baseTime}
	soon := baseTime.Add(100 * time.Millisecond)
	updated, outcome := ApplyTransition(existing, true, Incoming{SrcID: 2, StreamID: 5, PeerHasPriority: true, InCallControlEnabled: true}, soon, 2*time.Second)
	require.Equal(t, OutcomePriorityPreempt, outcome)
	require.Equal(t, uint32(2), updated.SrcID)
}

func TestApplyTransitionRejectsCollision(t *testing.T) {
	existing := CallStatus{Active: true, SrcID: 1, StreamID: 4, LastPacketTime: baseTime}
	soon := baseTime.Add(100 * time.Millisecond)
	updated, outcome := ApplyTransition(existing, true, Incoming{SrcID: 2, StreamID: 5}, soon, 2*time.Second)
	require.Equal(t, OutcomeRejectCollision, outcome)
	require.Equal(t, uint32(1), updated.SrcID)
}

func TestApplyTransitionPriorityIgnoredWhenInCallControlDisabled(t *testing.T) {
	existing := CallStatus{Active: true, SrcID: 1, StreamID: 4, LastPacketTime: baseTime}
	soon := baseTime.Add(100 * time.Millisecond)
	updated, outcome := ApplyTransition(existing, true, Incoming{SrcID: 2, StreamID: 5, PeerHasPriority: true, InCallControlEnabled: false}, soon, 2*time.Second)
	require.Equal(t, OutcomeRejectCollision, outcome)
	require.Equal(t, uint32(1), updated.SrcID)
}

func TestEndCallClearsActiveAndTakeover(t *testing.T) {
	s := CallStatus{Active: true, CallTakeover: true}
	ended := EndCall(s)
	require.False(t, ended.Active)
	require.False(t, ended.CallTakeover)
}

func TestMarkTakeoverSetsFlag(t *testing.T) {
	s := MarkTakeover(CallStatus{})
	require.True(t, s.CallTakeover)
}
