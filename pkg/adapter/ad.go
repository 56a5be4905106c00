package adapter

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AD structure types recognised in advertising data.
const (
	ADTypeFlags          = 0x01
	ADTypeUUID16Complete = 0x03
	ADTypeUUID128        = 0x07
	ADTypeShortName      = 0x08
	ADTypeCompleteName   = 0x09
)

// ADSummary holds the annotations extracted from advertising data.
type ADSummary struct {
	// Name is the first complete or shortened local name found.
	Name string

	// Services lists service UUIDs in encounter order.
	Services []string
}

// ParseAD walks the [len][type][value...] structures of data once, left to
// right. A zero length or a structure that would run past the end of data
// ends the walk; whatever was extracted before it is kept.
func ParseAD(data []byte) ADSummary {
	var (
		sum       ADSummary
		foundName bool
	)
	n := len(data)
	for pos := 0; pos+1 < n; {
		l := int(data[pos])
		if l == 0 || pos+l >= n {
			break
		}
		typ := data[pos+1]
		val := data[pos+2 : pos+1+l]

		switch typ {
		case ADTypeCompleteName, ADTypeShortName:
			if !foundName && len(val) > 0 {
				sum.Name = strings.ToValidUTF8(string(val), "�")
				foundName = true
			}
		case ADTypeUUID16Complete:
			for i := 0; i+1 < len(val); i += 2 {
				sum.Services = append(sum.Services, fmt.Sprintf("%04x", binary.LittleEndian.Uint16(val[i:])))
			}
		case ADTypeUUID128:
			for i := 0; i+16 <= len(val); i += 16 {
				sum.Services = append(sum.Services, uuid128(val[i:i+16]))
			}
		}

		pos += l + 1
	}
	return sum
}

// uuid128 renders a little-endian 128-bit UUID in 8-4-4-4-12 form.
func uuid128(le []byte) string {
	var u uuid.UUID
	for i := 0; i < 16; i++ {
		u[i] = le[15-i]
	}
	return u.String()
}

// ExtractDeviceName returns the first local name in data, or "".
func ExtractDeviceName(data []byte) string {
	return ParseAD(data).Name
}

// ExtractServiceUUIDs returns the 16- and 128-bit service UUIDs in data.
func ExtractServiceUUIDs(data []byte) []string {
	return ParseAD(data).Services
}

// Annotate appends the name and service annotations to a hex payload.
func (s ADSummary) Annotate(payload string) string {
	if s.Name == "" && len(s.Services) == 0 {
		return payload
	}
	var sb strings.Builder
	sb.WriteString(payload)
	if s.Name != "" {
		sb.WriteString(" [Name: ")
		sb.WriteString(s.Name)
		sb.WriteString("]")
	}
	if len(s.Services) > 0 {
		sb.WriteString(" [Services: ")
		sb.WriteString(strings.Join(s.Services, ","))
		sb.WriteString("]")
	}
	return sb.String()
}
