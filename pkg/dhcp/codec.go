package dhcp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Decode parses a BOOTP header, the DHCP magic cookie and the options area.
// Unknown options are kept as opaque values.
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, &DecodeError{Err: ErrMalformedHeader, Offset: len(data), Detail: fmt.Sprintf("packet too short: %d bytes", len(data))}
	}
	if data[offHLen] > chaddrSize {
		return nil, &DecodeError{Err: ErrMalformedHeader, Offset: offHLen, Detail: fmt.Sprintf("hlen %d", data[offHLen])}
	}
	if len(data) < optionsOffset {
		return nil, &DecodeError{Err: ErrInvalidMagicCookie, Offset: HeaderSize, Detail: "cookie missing"}
	}
	if magic := binary.BigEndian.Uint32(data[HeaderSize:optionsOffset]); magic != MagicCookie {
		return nil, &DecodeError{Err: ErrInvalidMagicCookie, Offset: HeaderSize, Detail: fmt.Sprintf("0x%08x", magic)}
	}

	m := &Message{
		Op:     OpCode(data[offOp]),
		HType:  data[offHType],
		HLen:   data[offHLen],
		Hops:   data[offHops],
		XID:    binary.BigEndian.Uint32(data[offXID:]),
		Secs:   binary.BigEndian.Uint16(data[offSecs:]),
		Flags:  binary.BigEndian.Uint16(data[offFlags:]),
		CIAddr: addrAt(data, offCIAddr),
		YIAddr: addrAt(data, offYIAddr),
		SIAddr: addrAt(data, offSIAddr),
		GIAddr: addrAt(data, offGIAddr),
	}
	copy(m.CHAddr[:], data[offCHAddr:])
	copy(m.SName[:], data[offSName:])
	copy(m.File[:], data[offFile:])

	opts, err := decodeOptions(data[optionsOffset:], optionsOffset, true)
	if err != nil {
		return nil, err
	}
	m.Options = opts.options
	m.Padding = opts.padding

	return m, nil
}

type decodedOptions struct {
	options Options
	padding int
}

func decodeOptions(data []byte, base int, keepPads bool) (decodedOptions, error) {
	var out decodedOptions
	i := 0
	for i < len(data) {
		code := OptionCode(data[i])
		switch code {
		case OptionPad:
			if keepPads {
				out.options = append(out.options, Option{Code: OptionPad})
			}
			i++
			continue
		case OptionEnd:
			out.padding = len(data) - i - 1
			return out, nil
		}

		if i+1 >= len(data) {
			return out, &DecodeError{Err: ErrTruncatedOption, Offset: base + i, Detail: fmt.Sprintf("option %d has no length", code)}
		}
		n := int(data[i+1])
		if i+2+n > len(data) {
			return out, &DecodeError{Err: ErrTruncatedOption, Offset: base + i, Detail: fmt.Sprintf("option %d declares %d bytes, %d remain", code, n, len(data)-i-2)}
		}

		out.options = append(out.options, Option{Code: code, Data: bytes.Clone(data[i+2 : i+2+n])})
		i += 2 + n
	}
	return out, nil
}

func addrAt(data []byte, off int) netip.Addr {
	a := netip.AddrFrom4([4]byte(data[off : off+4]))
	if a.IsUnspecified() {
		return netip.Addr{}
	}
	return a
}

func putAddr(buf []byte, a netip.Addr) {
	a = a.Unmap()
	if !a.Is4() {
		return
	}
	b := a.As4()
	copy(buf, b[:])
}

// EncodedLen is the size of the buffer Encode returns.
func (m *Message) EncodedLen() int {
	n := optionsOffset + 1 + m.Padding
	for _, opt := range m.Options {
		n += optionWireLen(opt)
	}
	return n
}

func optionWireLen(opt Option) int {
	switch opt.Code {
	case OptionPad:
		return 1
	case OptionEnd:
		return 0
	}
	if len(opt.Data) <= 255 {
		return 2 + len(opt.Data)
	}
	chunks := (len(opt.Data) + 254) / 255
	return 2*chunks + len(opt.Data)
}

// Encode is the inverse of Decode. Options are written in sequence order,
// values over 255 bytes are split per RFC 3396, and End is always written.
func (m *Message) Encode() []byte {
	buf := make([]byte, m.EncodedLen())

	buf[offOp] = byte(m.Op)
	buf[offHType] = m.HType
	buf[offHLen] = m.HLen
	buf[offHops] = m.Hops
	binary.BigEndian.PutUint32(buf[offXID:], m.XID)
	binary.BigEndian.PutUint16(buf[offSecs:], m.Secs)
	binary.BigEndian.PutUint16(buf[offFlags:], m.Flags)
	putAddr(buf[offCIAddr:], m.CIAddr)
	putAddr(buf[offYIAddr:], m.YIAddr)
	putAddr(buf[offSIAddr:], m.SIAddr)
	putAddr(buf[offGIAddr:], m.GIAddr)
	copy(buf[offCHAddr:], m.CHAddr[:])
	copy(buf[offSName:], m.SName[:])
	copy(buf[offFile:], m.File[:])
	binary.BigEndian.PutUint32(buf[HeaderSize:], MagicCookie)

	i := optionsOffset
	for _, opt := range m.Options {
		switch opt.Code {
		case OptionPad:
			i++
			continue
		case OptionEnd:
			continue
		}
		data := opt.Data
		for {
			n := min(len(data), 255)
			buf[i] = byte(opt.Code)
			buf[i+1] = byte(n)
			copy(buf[i+2:], data[:n])
			i += 2 + n
			data = data[n:]
			if len(data) == 0 {
				break
			}
		}
	}
	buf[i] = byte(OptionEnd)

	return buf
}

// Pad sets Padding so that the encoded message is at least size bytes.
func (m *Message) Pad(size int) {
	m.Padding = 0
	if n := m.EncodedLen(); n < size {
		m.Padding = size - n
	}
}
