package server

import (
	"context"
	"net"

	"github.com/lorenzolrom/dvmhost-sub000/internal/otar"
)

// handleOTAR is the dedicated OTAR UDP socket's dispatch entry point
// (spec.md §6 "OTAR UDP socket... followed by a KMM frame"): decrypt,
// decode, and route each inbound KMM message to the otar.Service
// methods, then frame and send any resulting reply.
func (s *Server) handleOTAR(ctx context.Context, remote net.UDPAddr, data []byte) {
	dg, err := otar.DecodeDatagram(data)
	if err != nil {
		s.log.Warn("dropping malformed otar datagram", "remote", remote.String(), "error", err)
		return
	}

	tek, hasTEK := s.otarSvc.Keys.LookupTEK(dg.KeyID)
	if dg.MfID != otar.MfIDUnencrypted && !hasTEK {
		s.log.Warn("otar datagram references unknown key", "kid", dg.KeyID, "remote", remote.String())
		return
	}

	plain, err := otar.DecryptKMMBody(dg, tek)
	if err != nil {
		s.log.Error("decrypting kmm body", "kid", dg.KeyID, "error", err)
		return
	}

	kmm, err := otar.DecodeFrame(plain)
	if err != nil {
		s.log.Warn("malformed kmm frame", "remote", remote.String(), "error", err)
		return
	}

	resp, hasResp := s.dispatchKMM(kmm)
	if !hasResp {
		return
	}

	respBody := resp.Encode()
	if dg.MfID != otar.MfIDUnencrypted && hasTEK {
		encrypted, err := otar.EncryptKMMBody(respBody, tek, dg.MI)
		if err != nil {
			s.log.Error("encrypting kmm response", "kid", dg.KeyID, "error", err)
			return
		}
		respBody = encrypted
	}

	outDg := otar.Datagram{MfID: dg.MfID, AlgID: dg.AlgID, KeyID: dg.KeyID, MI: dg.MI, KMMBody: respBody}
	if err := s.otarSock.send(remote, outDg.Encode()); err != nil {
		s.log.Error("sending otar response", "remote", remote.String(), "error", err)
	}
}

// dispatchKMM routes a decoded KMM message to the otar.Service method
// spec.md §4.8's table assigns it, returning the frame to send back (if
// any).
func (s *Server) dispatchKMM(kmm otar.Frame) (otar.Frame, bool) {
	switch kmm.MessageID {
	case otar.MsgHello:
		reject, cmd, wrapped := s.otarSvc.HandleHello(kmm.SrcLLID, kmm.DstLLID)
		if reject == otar.RejectNoService {
			return otar.Frame{MessageID: otar.MsgNak, SrcLLID: kmm.DstLLID, DstLLID: kmm.SrcLLID, Body: []byte{byte(otar.RejectNoService)}}, true
		}
		return otar.Frame{
			MessageID: otar.MsgModifyKeyCmd,
			MfID:      kmm.MfID,
			SrcLLID:   kmm.DstLLID,
			DstLLID:   kmm.SrcLLID,
			Body:      cmd.Encode(wrapped),
		}, true

	case otar.MsgNak, otar.MsgRekeyAck, otar.MsgRegRsp, otar.MsgUnableToDecrypt:
		if len(kmm.Body) > 0 {
			s.otarSvc.HandleStatus(kmm.MessageID, kmm.SrcLLID, kmm.Body[0])
		} else {
			s.otarSvc.HandleStatus(kmm.MessageID, kmm.SrcLLID, 0)
		}
		return otar.Frame{}, false

	case otar.MsgDeregCmd:
		return s.otarSvc.HandleDeregCmd(kmm.SrcLLID, kmm.DstLLID), true

	default:
		s.log.Debug("unhandled kmm message on otar socket", "messageId", kmm.MessageID)
		return otar.Frame{}, false
	}
}
