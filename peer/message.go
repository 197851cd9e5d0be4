package peer

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message IDs used by the wire protocol. The incoming message loop acts on
// 0, 1, 4, 5 and 7 and ignores the rest; only 2 and 6 are ever sent. 3 and
// 8 are defined for completeness but never produced.
const (
	msgChoke         uint8 = 0
	msgUnchoke       uint8 = 1
	msgInterested    uint8 = 2
	msgNotInterested uint8 = 3
	msgHave          uint8 = 4
	msgBitfield      uint8 = 5
	msgRequest       uint8 = 6
	msgPiece         uint8 = 7
	msgCancel        uint8 = 8
)

// message is one framed post-handshake protocol message.
type message struct {
	id      uint8
	payload []byte
}

func (m *message) serialize() []byte {
	length := uint32(1 + len(m.payload))
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = m.id
	copy(buf[5:], m.payload)
	return buf
}

// readMessage reads one length-prefixed frame. A zero-length frame is a
// keep-alive and is reported as (nil, nil) so the caller just loops again.
func readMessage(r io.Reader) (*message, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return nil, nil
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return &message{id: body[0], payload: body[1:]}, nil
}

func interestedMessage() *message {
	return &message{id: msgInterested}
}

func requestMessage(index, begin, length int) *message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &message{id: msgRequest, payload: payload}
}

func parseHave(m *message) (int, error) {
	if len(m.payload) != 4 {
		return 0, fmt.Errorf("have payload must be 4 bytes, got %d", len(m.payload))
	}
	return int(binary.BigEndian.Uint32(m.payload)), nil
}

func parsePiece(m *message) (index, begin int, data []byte, err error) {
	if len(m.payload) < 8 {
		return 0, 0, nil, fmt.Errorf("piece payload must be at least 8 bytes, got %d", len(m.payload))
	}
	index = int(binary.BigEndian.Uint32(m.payload[0:4]))
	begin = int(binary.BigEndian.Uint32(m.payload[4:8]))
	data = m.payload[8:]
	return index, begin, data, nil
}
