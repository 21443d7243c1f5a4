package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"
)

const (
	K = uint64(1000)
	M = 1000 * K
	G = 1000 * M

	Ki = uint64(1024)
	Mi = 1024 * Ki
	Gi = 1024 * Mi
)

// ordered largest first so that MarshalText picks the biggest exact unit
var memoryUnits = []struct {
	name string
	size uint64
}{
	{"Gi", Gi},
	{"G", G},
	{"Mi", Mi},
	{"M", M},
	{"Ki", Ki},
	{"K", K},
}

var memoryUnitsByName = map[string]uint64{
	"":    1,
	"b":   1,
	"k":   K,
	"kb":  K,
	"ki":  Ki,
	"kib": Ki,
	"m":   M,
	"mb":  M,
	"mi":  Mi,
	"mib": Mi,
	"g":   G,
	"gb":  G,
	"gi":  Gi,
	"gib": Gi,
}

var memorySizePattern = regexp.MustCompile(`^\s*([0-9._]+)\s*([a-z]*)\s*$`)

// MemorySize is a byte count written as "512K", "5Mi", "1.5G" and so on.
// Units without an "i" are powers of 1000.
type MemorySize uint64

func (m MemorySize) MarshalText() ([]byte, error) {
	for _, u := range memoryUnits {
		if m > 0 && uint64(m)%u.size == 0 {
			return []byte(fmt.Sprintf("%d%s", uint64(m)/u.size, u.name)), nil
		}
	}
	return []byte(strconv.FormatUint(uint64(m), 10)), nil
}

func (m *MemorySize) UnmarshalText(text []byte) error {
	matches := memorySizePattern.FindStringSubmatch(strings.ToLower(string(text)))
	if matches == nil {
		return fmt.Errorf("invalid size: %s", text)
	}
	number, err := strconv.ParseFloat(strings.ReplaceAll(matches[1], "_", ""), 64)
	if err != nil {
		return fmt.Errorf("invalid size: %s", text)
	}
	scalar, ok := memoryUnitsByName[matches[2]]
	if !ok {
		return fmt.Errorf("invalid size: %s", text)
	}
	*m = MemorySize(number * float64(scalar))
	return nil
}

var _ flags.Unmarshaler = (*MemorySize)(nil)

func (m *MemorySize) UnmarshalFlag(value string) error {
	return m.UnmarshalText([]byte(value))
}
