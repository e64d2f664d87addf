package event

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire format of a maintenance event datagram: a fixed-size ASCII header,
// a command word, four parameter words (parm[0] carries the interface
// index), then a JSON body with hostname and service.

const (
	// Header is the fixed marker opening every event datagram.
	Header = "mtce_event"

	headerSize = 16
	parmCount  = 4
)

// ErrBadHeader marks a datagram that does not open with the event header.
var ErrBadHeader = errors.New("event: bad header")

// Body is the JSON trailer of an event datagram.
type Body struct {
	Hostname string `json:"hostname"`
	Service  string `json:"service"`
	Process  string `json:"process,omitempty"`
}

// ifaceIndex maps a network name to the parm[0] value.
func ifaceIndex(iface string) uint32 {
	switch iface {
	case "clstr":
		return 1
	default:
		return 0
	}
}

func ifaceName(idx uint32) string {
	if idx == 1 {
		return "clstr"
	}
	return "mgmnt"
}

// Encode serializes an event for the maintenance master.
func Encode(ev *Event) ([]byte, error) {
	buf := &bytes.Buffer{}

	hdr := make([]byte, headerSize)
	copy(hdr, Header)
	buf.Write(hdr)

	binary.Write(buf, binary.LittleEndian, uint32(ev.Type))
	parms := [parmCount]uint32{ifaceIndex(ev.Iface)}
	binary.Write(buf, binary.LittleEndian, parms)

	body, err := json.Marshal(Body{Hostname: ev.Hostname, Service: ev.Service, Process: ev.Process})
	if err != nil {
		return nil, fmt.Errorf("event: body encode: %w", err)
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// Decode parses an event datagram. Used by tests standing in for the
// maintenance master.
func Decode(data []byte) (*Event, error) {
	if len(data) < headerSize+4+parmCount*4 {
		return nil, ErrBadHeader
	}
	if string(bytes.TrimRight(data[:headerSize], "\x00")) != Header {
		return nil, ErrBadHeader
	}
	r := bytes.NewReader(data[headerSize:])

	var cmd uint32
	var parms [parmCount]uint32
	binary.Read(r, binary.LittleEndian, &cmd)
	binary.Read(r, binary.LittleEndian, &parms)

	var body Body
	trailer := data[headerSize+4+parmCount*4:]
	if len(trailer) > 0 {
		if err := json.Unmarshal(trailer, &body); err != nil {
			return nil, fmt.Errorf("event: body decode: %w", err)
		}
	}
	return &Event{
		Type:     Type(cmd),
		Hostname: body.Hostname,
		Service:  body.Service,
		Process:  body.Process,
		Iface:    ifaceName(parms[0]),
	}, nil
}
