package stun

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const (
	// STUN 消息类型
	bindingRequest       uint16 = 0x0001
	bindingResponse      uint16 = 0x0101
	bindingErrorResponse uint16 = 0x0111

	// STUN 属性类型 (RFC 5389)
	attrMappedAddress    uint16 = 0x0001
	attrXORMappedAddress uint16 = 0x0020

	// 地址族
	familyIPv4 byte = 0x01
	familyIPv6 byte = 0x02

	// Magic Cookie (RFC 5389)
	magicCookie uint32 = 0x2112A442

	headerLen        = 20
	transactionIDLen = 12
)

// STUN 相关错误
var (
	// ErrNoResponse STUN 服务器无响应
	ErrNoResponse = errors.New("stun: no response from server")

	// ErrInvalidResponse 响应格式错误
	ErrInvalidResponse = errors.New("stun: invalid response")

	// ErrTransactionMismatch 事务 ID 不匹配
	ErrTransactionMismatch = errors.New("stun: transaction id mismatch")

	// ErrNoMappedAddress 响应中没有映射地址
	ErrNoMappedAddress = errors.New("stun: no mapped address in response")

	// ErrIPv6Unsupported 映射地址为 IPv6
	ErrIPv6Unsupported = errors.New("stun: IPv6 mapped address not supported")

	// ErrAllServersFailed 所有服务器都失败
	ErrAllServersFailed = errors.New("stun: all servers failed")

	// ErrNoServers 未配置服务器
	ErrNoServers = errors.New("stun: no servers configured")
)

// Result STUN 查询结果
type Result struct {
	// IP 公网 IPv4 地址
	IP net.IP

	// Port 映射端口
	Port int

	// Server 应答的服务器
	Server string

	// FromXOR 地址是否来自 XOR-MAPPED-ADDRESS
	FromXOR bool
}

// String 返回 "ip:port"
func (r *Result) String() string {
	return net.JoinHostPort(r.IP.String(), fmt.Sprint(r.Port))
}

// BuildBindingRequest 构建 Binding Request（无属性，长度为 0）
func BuildBindingRequest(txID []byte) []byte {
	msg := make([]byte, headerLen)
	binary.BigEndian.PutUint16(msg[0:2], bindingRequest)
	binary.BigEndian.PutUint16(msg[2:4], 0)
	binary.BigEndian.PutUint32(msg[4:8], magicCookie)
	copy(msg[8:20], txID)
	return msg
}

// ParseBindingResponse 校验并解析 Binding Success Response
//
// 校验消息类型、Magic Cookie 和事务 ID，然后按 4 字节对齐扫描属性，
// 未知属性按长度跳过。
func ParseBindingResponse(data, txID []byte) (*Result, error) {
	if len(data) < headerLen {
		return nil, ErrInvalidResponse
	}

	msgType := binary.BigEndian.Uint16(data[0:2])
	if msgType != bindingResponse {
		if msgType == bindingErrorResponse {
			return nil, fmt.Errorf("%w: binding error response", ErrInvalidResponse)
		}
		return nil, fmt.Errorf("%w: unexpected message type 0x%04x", ErrInvalidResponse, msgType)
	}

	if cookie := binary.BigEndian.Uint32(data[4:8]); cookie != magicCookie {
		return nil, fmt.Errorf("%w: magic cookie 0x%08x", ErrInvalidResponse, cookie)
	}

	if !bytes.Equal(data[8:20], txID) {
		return nil, ErrTransactionMismatch
	}

	msgLen := int(binary.BigEndian.Uint16(data[2:4]))
	if len(data) < headerLen+msgLen {
		return nil, fmt.Errorf("%w: truncated message", ErrInvalidResponse)
	}
	end := headerLen + msgLen

	var xorValue, mappedValue []byte
	offset := headerLen
	for offset+4 <= end {
		attrType := binary.BigEndian.Uint16(data[offset : offset+2])
		attrLen := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		offset += 4
		if offset+attrLen > end {
			return nil, fmt.Errorf("%w: attribute overflows message", ErrInvalidResponse)
		}
		value := data[offset : offset+attrLen]

		switch attrType {
		case attrXORMappedAddress:
			if xorValue == nil {
				xorValue = value
			}
		case attrMappedAddress:
			if mappedValue == nil {
				mappedValue = value
			}
		}

		// 对齐到 4 字节边界
		offset += attrLen
		if pad := attrLen % 4; pad != 0 {
			offset += 4 - pad
		}
	}

	switch {
	case xorValue != nil:
		ip, port, err := parseAddress(xorValue, true)
		if err != nil {
			return nil, err
		}
		return &Result{IP: ip, Port: port, FromXOR: true}, nil
	case mappedValue != nil:
		ip, port, err := parseAddress(mappedValue, false)
		if err != nil {
			return nil, err
		}
		return &Result{IP: ip, Port: port}, nil
	default:
		return nil, ErrNoMappedAddress
	}
}

// parseAddress 解析 (XOR-)MAPPED-ADDRESS 值，仅支持 IPv4
func parseAddress(value []byte, xor bool) (net.IP, int, error) {
	if len(value) < 4 {
		return nil, 0, ErrInvalidResponse
	}

	switch value[1] {
	case familyIPv4:
	case familyIPv6:
		return nil, 0, ErrIPv6Unsupported
	default:
		return nil, 0, fmt.Errorf("%w: unknown address family %d", ErrInvalidResponse, value[1])
	}
	if len(value) < 8 {
		return nil, 0, ErrInvalidResponse
	}

	port := binary.BigEndian.Uint16(value[2:4])
	ip := make(net.IP, net.IPv4len)
	copy(ip, value[4:8])

	if xor {
		port ^= uint16(magicCookie >> 16)
		var cookie [4]byte
		binary.BigEndian.PutUint32(cookie[:], magicCookie)
		for i := range ip {
			ip[i] ^= cookie[i]
		}
	}
	return ip, int(port), nil
}
