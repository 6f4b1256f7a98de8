package dhcp

import "bytes"

// Option is one TLV entry. Pad entries have nil Data and are kept only so
// that a decoded packet re-encodes byte for byte.
type Option struct {
	Code OptionCode
	Data []byte
}

// Options is the ordered option sequence of a message.
type Options []Option

func (o Options) Get(code OptionCode) ([]byte, bool) {
	for _, opt := range o {
		if opt.Code == code {
			return opt.Data, true
		}
	}
	return nil, false
}

func (o Options) Has(code OptionCode) bool {
	_, ok := o.Get(code)
	return ok
}

// Concat joins the values of every instance of code (RFC 3396).
func (o Options) Concat(code OptionCode) ([]byte, bool) {
	var out []byte
	found := false
	for _, opt := range o {
		if opt.Code == code {
			out = append(out, opt.Data...)
			found = true
		}
	}
	return out, found
}

// Set replaces the first instance of code, or appends it. Values longer
// than 255 bytes are split over consecutive instances.
func (o *Options) Set(code OptionCode, data []byte) {
	if len(data) > 255 {
		o.Del(code)
		o.Add(code, data)
		return
	}
	for i := range *o {
		if (*o)[i].Code == code {
			(*o)[i].Data = bytes.Clone(data)
			return
		}
	}
	o.Add(code, data)
}

// Add appends code without touching existing instances.
func (o *Options) Add(code OptionCode, data []byte) {
	for len(data) > 255 {
		*o = append(*o, Option{Code: code, Data: bytes.Clone(data[:255])})
		data = data[255:]
	}
	*o = append(*o, Option{Code: code, Data: bytes.Clone(data)})
}

func (o *Options) Del(code OptionCode) {
	out := (*o)[:0]
	for _, opt := range *o {
		if opt.Code != code {
			out = append(out, opt)
		}
	}
	*o = out
}

// Codes lists option codes in order, skipping pads.
func (o Options) Codes() []OptionCode {
	codes := make([]OptionCode, 0, len(o))
	for _, opt := range o {
		if opt.Code == OptionPad {
			continue
		}
		codes = append(codes, opt.Code)
	}
	return codes
}

func (o Options) encodedLen() int {
	n := 0
	for _, opt := range o {
		if opt.Code == OptionPad || opt.Code == OptionEnd {
			n++
			continue
		}
		n += 2 + len(opt.Data)
	}
	return n
}

func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	for i, opt := range o {
		out[i] = Option{Code: opt.Code, Data: bytes.Clone(opt.Data)}
	}
	return out
}
