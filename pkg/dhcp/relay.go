package dhcp

// RelayAgentInfo holds the sub-options of option 82 (RFC 3046).
type RelayAgentInfo struct {
	CircuitID []byte
	RemoteID  []byte
	Raw       []byte
}

func ParseRelayAgentInfo(data []byte) (*RelayAgentInfo, error) {
	info := &RelayAgentInfo{Raw: append([]byte(nil), data...)}
	i := 0
	for i < len(data) {
		if i+1 >= len(data) {
			return nil, invalidOption(OptionRelayAgentInformation, "sub-option at %d has no length", i)
		}

		subOptCode := data[i]
		subOptLen := int(data[i+1])
		if i+2+subOptLen > len(data) {
			return nil, invalidOption(OptionRelayAgentInformation, "sub-option %d truncated", subOptCode)
		}

		subOptData := data[i+2 : i+2+subOptLen]
		switch subOptCode {
		case 1:
			info.CircuitID = append([]byte(nil), subOptData...)
		case 2:
			info.RemoteID = append([]byte(nil), subOptData...)
		}

		i += 2 + subOptLen
	}
	return info, nil
}
