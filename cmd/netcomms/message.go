package main

import (
	"github.com/opd-ai/netcomms/connection"
	"github.com/opd-ai/netcomms/packet"
)

// messageType is the packet type used for text sent from the shell.
const messageType = "Message"

// message is the payload of a messageType packet.
type message struct {
	Text string `cbor:"1,keyasint" json:"text"`
}

// sendText sends text on c. Raw connections carry the bytes unframed.
func sendText(c *connection.Connection, text string) error {
	if c.Info().Protocol() == connection.ProtocolDisabled {
		return c.SendPacket(&packet.Packet{
			Header: packet.Header{
				Type:        packet.TypeUnmanaged,
				PayloadSize: uint32(len(text)),
			},
			Payload: []byte(text),
		})
	}
	return c.Send(messageType, message{Text: text})
}

// decodeText extracts the text of a received packet.
func decodeText(p *packet.Packet) (string, error) {
	if p.Type() == packet.TypeUnmanaged {
		return string(p.Payload), nil
	}
	var m message
	if err := p.Unmarshal(&m); err != nil {
		return "", err
	}
	return m.Text, nil
}
