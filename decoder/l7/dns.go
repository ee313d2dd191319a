package l7

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cyh01/deepflow/types"
)

const (
	dnsNameCompressPointer = 0xc0
	dnsNameReserved40      = 0x40
	dnsNameReserved80      = 0x80
	dnsNameMaxSize         = 255
	dnsTCPPayloadOffset    = 2
)

// DNSAnswer is one resource record from a DNS response.
type DNSAnswer struct {
	Name  string
	Type  uint16
	Data  string
}

// DNSInfo is the parsed payload of a DNS query/response pair, grounded
// on dns.rs's DnsInfo.
type DNSInfo struct {
	TransID    uint16
	QueryType  uint16
	DomainType uint16
	QueryName  string
	Answers    []DNSAnswer
	Status     types.L7ResponseStatus
}

func (d *DNSInfo) L7Protocol() types.L7Protocol { return types.L7ProtocolDNS }

// Merge overwrites the query's answers with the response's, grounded on
// DnsInfo::merge (the response always carries the authoritative answer
// set; the request side never has any).
func (d *DNSInfo) Merge(other Info) {
	o, ok := other.(*DNSInfo)
	if !ok {
		return
	}

	if len(o.Answers) > 0 {
		d.Answers = o.Answers
	}
}

// SessionID exposes the DNS transaction id as the session pairing key,
// grounded on mod.rs's AppProtoLogsInfo::session_id (Dns branch: Some
// when trans_id > 0).
func (d *DNSInfo) SessionID() (uint32, bool) {
	if d.TransID == 0 {
		return 0, false
	}

	return uint32(d.TransID), true
}

type dnsState struct{}

func (s *dnsState) Reset() {}

// DNSParser implements L7Parser for DNS over UDP/53 and TCP/53.
type DNSParser struct{}

func (p *DNSParser) Protocol() types.L7Protocol { return types.L7ProtocolDNS }
func (p *DNSParser) NewState() ParserState      { return &dnsState{} }

// Parse implements L7Parser for a bare DNS message as carried over UDP.
// The 2-byte length-prefixed framing dns.rs applies on TCP is handled
// by ParseTCP instead.
func (p *DNSParser) Parse(state ParserState, payload []byte, dir types.PacketDirection) (Info, types.LogMessageType, error) {
	return p.parse(payload, dir, false)
}

// ParseTCP is the TCP-framed variant: payload is prefixed with a 2-byte
// big-endian message length, per dns.rs's L7LogParse::parse TCP branch.
func (p *DNSParser) ParseTCP(state ParserState, payload []byte, dir types.PacketDirection) (Info, types.LogMessageType, error) {
	if len(payload) < dnsTCPPayloadOffset {
		return nil, 0, ErrNotThisProtocol
	}

	msgLen := int(binary.BigEndian.Uint16(payload[:dnsTCPPayloadOffset]))
	body := payload[dnsTCPPayloadOffset:]
	if msgLen > len(body) {
		return nil, 0, ErrNotThisProtocol
	}

	return p.parse(body[:msgLen], dir, true)
}

func (p *DNSParser) parse(payload []byte, dir types.PacketDirection, tcp bool) (Info, types.LogMessageType, error) {
	if len(payload) < 12 {
		return nil, 0, ErrNotThisProtocol
	}

	transID := binary.BigEndian.Uint16(payload[0:2])
	flags := payload[2]
	isResponse := flags&0x80 != 0
	rcode := payload[3] & 0x0f

	qdCount := int(binary.BigEndian.Uint16(payload[4:6]))
	anCount := int(binary.BigEndian.Uint16(payload[6:8]))
	nsCount := int(binary.BigEndian.Uint16(payload[8:10]))

	info := &DNSInfo{TransID: transID}

	index := 12

	var queryName string

	for i := 0; i < qdCount; i++ {
		name, next, err := decodeName(payload, index)
		if err != nil {
			return nil, 0, ErrNotThisProtocol
		}
		if len(payload) < next+4 {
			return nil, 0, ErrNotThisProtocol
		}

		qType := binary.BigEndian.Uint16(payload[next : next+2])
		index = next + 4

		if i == 0 {
			queryName = name
			info.QueryType = qType
		}
	}

	info.QueryName = queryName

	msgType := types.LogMessageTypeRequest
	if isResponse {
		msgType = types.LogMessageTypeResponse

		for i := 0; i < anCount+nsCount; i++ {
			var rr DNSAnswer

			var next int
			var err error

			rr.Name, next, err = decodeName(payload, index)
			if err != nil {
				break
			}
			if len(payload) < next+10 {
				break
			}

			rr.Type = binary.BigEndian.Uint16(payload[next : next+2])
			rdLen := int(binary.BigEndian.Uint16(payload[next+8 : next+10]))
			rdStart := next + 10
			if rdStart+rdLen > len(payload) {
				break
			}

			rr.Data = decodeRData(payload, rdStart, rdLen, rr.Type)
			index = rdStart + rdLen

			info.Answers = append(info.Answers, rr)
		}
	}

	if isResponse {
		info.Status = classifyRCode(rcode)
	}

	return info, msgType, nil
}

// decodeName walks a DNS name starting at index, following compression
// pointers, grounded on dns.rs's decode_name. Forward pointers (pointing
// at or after the current index) are rejected as malformed to avoid
// infinite loops; reserved label-length prefixes (0x40, 0x80) are
// likewise rejected.
func decodeName(data []byte, index int) (string, int, error) {
	var labels []string

	size := 0
	i := index
	jumped := false
	afterPointer := -1

	for {
		if i >= len(data) {
			return "", 0, errors.New("dns: name runs past end of message")
		}

		b := data[i]

		if b&dnsNameCompressPointer == dnsNameCompressPointer {
			if i+1 >= len(data) {
				return "", 0, errors.New("dns: truncated compression pointer")
			}

			ptr := int(b&0x3f)<<8 | int(data[i+1])
			if ptr >= i {
				return "", 0, errors.New("dns: forward compression pointer")
			}

			if !jumped {
				afterPointer = i + 2
				jumped = true
			}

			i = ptr
			continue
		}

		if top := b & dnsNameCompressPointer; top == dnsNameReserved40 || top == dnsNameReserved80 {
			return "", 0, errors.New("dns: reserved label type")
		}

		if b == 0 {
			i++
			break
		}

		labelLen := int(b)
		if i+1+labelLen > len(data) {
			return "", 0, errors.New("dns: label runs past end of message")
		}

		labels = append(labels, string(data[i+1:i+1+labelLen]))
		size += labelLen + 1
		if size > dnsNameMaxSize {
			return "", 0, errors.New("dns: name too long")
		}

		i += 1 + labelLen
	}

	next := i
	if jumped {
		next = afterPointer
	}

	return strings.Join(labels, "."), next, nil
}

// decodeRData renders the rdata section for the record types dns.rs
// treats specially (address types resolve to dotted strings, name-typed
// records resolve to dotted domain names); anything else is left as a
// hex summary for diagnostic purposes.
func decodeRData(data []byte, start, length int, rtype uint16) string {
	switch rtype {
	case 1: // A
		if length == 4 {
			return ipv4String(data[start : start+4])
		}
	case 28: // AAAA
		if length == 16 {
			return ipv6String(data[start : start+16])
		}
	case 2, 5, 12, 39: // NS, CNAME, PTR, DNAME
		name, _, err := decodeName(data, start)
		if err == nil {
			return name
		}
	}

	return "0x" + hexString(data[start:start+length])
}

func ipv4String(b []byte) string {
	return strconv.Itoa(int(b[0])) + "." + strconv.Itoa(int(b[1])) + "." +
		strconv.Itoa(int(b[2])) + "." + strconv.Itoa(int(b[3]))
}

func ipv6String(b []byte) string {
	var sb strings.Builder
	for i := 0; i < 16; i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(strconv.FormatUint(uint64(binary.BigEndian.Uint16(b[i:i+2])), 16))
	}

	return sb.String()
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"

	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}

	return string(out)
}
