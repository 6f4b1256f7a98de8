package dhcp

type lengthRule uint8

const (
	ruleAny lengthRule = iota
	ruleFixed
	ruleMultiple
	ruleMin
)

// OptionSpec describes how a registered option is validated.
type OptionSpec struct {
	Code  OptionCode
	Name  string
	rule  lengthRule
	size  int
	check func(data []byte) error
}

var registry = map[OptionCode]OptionSpec{}

func register(code OptionCode, name string, rule lengthRule, size int, check func([]byte) error) {
	registry[code] = OptionSpec{Code: code, Name: name, rule: rule, size: size, check: check}
}

func init() {
	register(OptionSubnetMask, "Subnet Mask", ruleFixed, 4, checkMask)
	register(OptionTimeOffset, "Time Offset", ruleFixed, 4, nil)
	register(OptionRouter, "Router", ruleMultiple, 4, nil)
	register(OptionDomainNameServer, "Domain Name Server", ruleMultiple, 4, nil)
	register(OptionHostName, "Host Name", ruleMin, 1, nil)
	register(OptionDomainName, "Domain Name", ruleMin, 1, nil)
	register(OptionInterfaceMTU, "Interface MTU", ruleFixed, 2, checkMTU)
	register(OptionBroadcastAddress, "Broadcast Address", ruleFixed, 4, nil)
	register(OptionNTPServers, "NTP Servers", ruleMultiple, 4, nil)
	register(OptionVendorSpecific, "Vendor Specific Information", ruleAny, 0, nil)
	register(OptionRequestedIPAddress, "Requested IP Address", ruleFixed, 4, nil)
	register(OptionIPAddressLeaseTime, "IP Address Lease Time", ruleFixed, 4, nil)
	register(OptionOverload, "Option Overload", ruleFixed, 1, checkOverload)
	register(OptionDHCPMessageType, "DHCP Message Type", ruleFixed, 1, checkMessageType)
	register(OptionServerIdentifier, "Server Identifier", ruleFixed, 4, nil)
	register(OptionParameterRequestList, "Parameter Request List", ruleMin, 1, nil)
	register(OptionMessage, "Message", ruleMin, 1, nil)
	register(OptionMaximumMessageSize, "Maximum DHCP Message Size", ruleFixed, 2, checkMaxSize)
	register(OptionRenewalTimeValue, "Renewal (T1) Time Value", ruleFixed, 4, nil)
	register(OptionRebindingTimeValue, "Rebinding (T2) Time Value", ruleFixed, 4, nil)
	register(OptionVendorClassIdentifier, "Vendor Class Identifier", ruleMin, 1, nil)
	register(OptionClientIdentifier, "Client Identifier", ruleMin, 2, nil)
	register(OptionRelayAgentInformation, "Relay Agent Information", ruleMin, 2, checkRelayInfo)
	register(OptionClasslessStaticRoute, "Classless Static Route", ruleMin, 5, checkClasslessRoutes)
}

// ProtocolOption reports whether code is written by the exchange itself
// (message type, server identifier, lease timers, client and relay
// identity, framing) and so cannot be supplied from configuration.
func ProtocolOption(code OptionCode) bool {
	switch code {
	case OptionPad, OptionEnd,
		OptionRequestedIPAddress, OptionIPAddressLeaseTime, OptionOverload,
		OptionDHCPMessageType, OptionServerIdentifier, OptionParameterRequestList,
		OptionMessage, OptionMaximumMessageSize,
		OptionRenewalTimeValue, OptionRebindingTimeValue,
		OptionClientIdentifier, OptionRelayAgentInformation:
		return true
	}
	return false
}

// LookupOption returns the registry entry for code.
func LookupOption(code OptionCode) (OptionSpec, bool) {
	spec, ok := registry[code]
	return spec, ok
}

// Validate applies the length and range rule registered for code. Codes
// without a registry entry are always valid.
func Validate(code OptionCode, data []byte) error {
	spec, ok := registry[code]
	if !ok {
		return nil
	}

	switch spec.rule {
	case ruleFixed:
		if len(data) != spec.size {
			return invalidOption(code, "length %d, want %d", len(data), spec.size)
		}
	case ruleMultiple:
		if len(data) == 0 || len(data)%spec.size != 0 {
			return invalidOption(code, "length %d, want non-zero multiple of %d", len(data), spec.size)
		}
	case ruleMin:
		if len(data) < spec.size {
			return invalidOption(code, "length %d, want at least %d", len(data), spec.size)
		}
	}

	if spec.check != nil {
		return spec.check(data)
	}
	return nil
}

// Validate checks every registered option present in the message.
func (m *Message) Validate() error {
	for _, opt := range m.Options {
		if opt.Code == OptionPad {
			continue
		}
		if err := Validate(opt.Code, opt.Data); err != nil {
			return err
		}
	}
	return nil
}

func checkMask(data []byte) error {
	v := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	if v != 0 && (^v)&((^v)+1) != 0 {
		return invalidOption(OptionSubnetMask, "non-contiguous mask %d.%d.%d.%d", data[0], data[1], data[2], data[3])
	}
	return nil
}

func checkMTU(data []byte) error {
	if mtu := int(data[0])<<8 | int(data[1]); mtu < 68 {
		return invalidOption(OptionInterfaceMTU, "mtu %d below 68", mtu)
	}
	return nil
}

func checkOverload(data []byte) error {
	if data[0] < 1 || data[0] > 3 {
		return invalidOption(OptionOverload, "value %d", data[0])
	}
	return nil
}

func checkMessageType(data []byte) error {
	if !MessageType(data[0]).Valid() {
		return invalidOption(OptionDHCPMessageType, "unknown type %d", data[0])
	}
	return nil
}

func checkMaxSize(data []byte) error {
	if n := int(data[0])<<8 | int(data[1]); n < MinMaxMessageSize {
		return invalidOption(OptionMaximumMessageSize, "size %d below %d", n, MinMaxMessageSize)
	}
	return nil
}

func checkRelayInfo(data []byte) error {
	_, err := ParseRelayAgentInfo(data)
	return err
}

func checkClasslessRoutes(data []byte) error {
	_, err := DecodeClasslessRoutes(data)
	return err
}
