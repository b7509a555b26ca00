package router

import "github.com/lorenzolrom/dvmhost-sub000/internal/acl"

// CallKind distinguishes group-addressed traffic from unit-to-unit
// private calls for validation and permit purposes (spec.md §4.5).
type CallKind int

const (
	CallGroup CallKind = iota
	CallPrivate
)

// FrameMeta is the subset of an inbound frame's addressing fields the
// router pipeline needs, independent of which protocol produced it.
type FrameMeta struct {
	Kind   CallKind
	SrcID  uint32
	DstID  uint32
	PeerID uint32
}

// ValidationResult is the outcome of per-frame validation (spec.md §4.5
// "Validation (per stream, per frame)").
type ValidationResult struct {
	Accept                    bool
	RejectReason              string
	RejectUnknownBadCall      bool
	SendRejectTrafficUpstream bool
}

func accept() ValidationResult { return ValidationResult{Accept: true} }

func reject(reason string, sendRejectUpstream, unknownBadCall bool) ValidationResult {
	return ValidationResult{
		RejectReason:              reason,
		SendRejectTrafficUpstream: sendRejectUpstream,
		RejectUnknownBadCall:      unknownBadCall,
	}
}

// Validate applies spec.md §4.5's validation rules to f. talkgroupRule/
// talkgroupFound is the already-resolved talkgroup rule for a group call
// (the caller looks it up once and reuses it for permit evaluation too);
// both are ignored for private calls.
func Validate(radios acl.RadioLookup, f FrameMeta, rejectUnknownRID bool, talkgroupRule acl.TalkgroupRule, talkgroupFound bool) ValidationResult {
	if rule, ok := radios.LookupRadio(f.SrcID); ok && !rule.Enabled {
		return reject("DISABLED_SRC_RID", true, false)
	}
	_, knownSrc := radios.LookupRadio(f.SrcID)
	rejectUnknownBadCall := !knownSrc && rejectUnknownRID

	if f.Kind == CallPrivate {
		destRule, ok := radios.LookupRadio(f.DstID)
		if !ok || !destRule.Enabled {
			return reject("DISABLED_DST_RID", false, rejectUnknownBadCall)
		}
		res := accept()
		res.RejectUnknownBadCall = rejectUnknownBadCall
		return res
	}

	if !talkgroupFound || !talkgroupRule.Active {
		return reject("TG_INACTIVE", false, rejectUnknownBadCall)
	}
	if !talkgroupRule.PermitsSource(f.SrcID) {
		return reject("SRC_NOT_PERMITTED_RID", false, rejectUnknownBadCall)
	}
	if rejectUnknownBadCall && !talkgroupRule.InAlwaysSend(f.PeerID) {
		return reject("UNKNOWN_BAD_CALL", false, true)
	}
	return accept()
}
