package gateway

import (
	"encoding/binary"

	"golang.org/x/crypto/ssh"
)

// session is the transient per-connection state: the negotiated channel, the
// terminal geometry from pty-req, and a readiness signal set by the shell
// request. Its lifetime is bounded by the TCP connection.
type session struct {
	channel ssh.Channel
	pty     *ptyRequest
	ready   chan struct{}
}

type ptyRequest struct {
	Term string
	Cols uint32
	Rows uint32
}

func newSession(channel ssh.Channel) *session {
	return &session{channel: channel, ready: make(chan struct{})}
}

// consumeRequests answers channel requests until the request stream closes.
// Only pty-req and shell are honored; everything else is refused.
func (s *session) consumeRequests(requests <-chan *ssh.Request) {
	shellSeen := false
	for req := range requests {
		switch req.Type {
		case "pty-req":
			s.pty = parsePtyRequest(req.Payload)
			if req.WantReply {
				req.Reply(s.pty != nil, nil)
			}
		case "shell":
			if req.WantReply {
				req.Reply(!shellSeen, nil)
			}
			if !shellSeen {
				shellSeen = true
				close(s.ready)
			}
		case "window-change":
			// initial geometry only; resizes are not propagated
			if req.WantReply {
				req.Reply(false, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// parsePtyRequest decodes an SSH pty-req payload: string term, uint32 cols,
// uint32 rows, uint32 px width, uint32 px height, string modes. The length
// arithmetic stays in int so a hostile term length cannot wrap the bounds
// check.
func parsePtyRequest(payload []byte) *ptyRequest {
	if len(payload) < 4 {
		return nil
	}
	termLen := int(binary.BigEndian.Uint32(payload[:4]))
	if termLen < 0 || 4+termLen+8 > len(payload) {
		return nil
	}
	term := string(payload[4 : 4+termLen])
	offset := 4 + termLen
	cols := binary.BigEndian.Uint32(payload[offset : offset+4])
	rows := binary.BigEndian.Uint32(payload[offset+4 : offset+8])
	return &ptyRequest{Term: term, Cols: cols, Rows: rows}
}

func sendExitStatus(channel ssh.Channel, exitCode int) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(exitCode))
	channel.SendRequest("exit-status", false, payload)
}
