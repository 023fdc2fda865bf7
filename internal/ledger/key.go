package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// InstrumentType classifies how a position behaves for settlement,
// valuation, and attribution.
type InstrumentType int32

const (
	InstrumentUnknown InstrumentType = iota
	InstrumentSpot
	InstrumentPerp
	InstrumentStaked
	InstrumentLending
)

func (it InstrumentType) String() string {
	switch it {
	case InstrumentSpot:
		return "spot"
	case InstrumentPerp:
		return "perp"
	case InstrumentStaked:
		return "staked"
	case InstrumentLending:
		return "lending"
	default:
		return "unknown"
	}
}

// ParseInstrumentType maps the wire/config spelling to the enum.
func ParseInstrumentType(s string) (InstrumentType, error) {
	switch strings.ToLower(s) {
	case "spot":
		return InstrumentSpot, nil
	case "perp", "perpetual":
		return InstrumentPerp, nil
	case "staked", "staking":
		return InstrumentStaked, nil
	case "lending":
		return InstrumentLending, nil
	default:
		return InstrumentUnknown, fmt.Errorf("unknown instrument type %q", s)
	}
}

// PositionKey identifies one balance in the declared universe. The universe
// is fixed at session start; any key outside it is a structural error.
type PositionKey struct {
	Venue      string
	Instrument InstrumentType
	Symbol     string
}

// Path renders the key as "venue:instrument:symbol", the form used in logs,
// audit records, and config files.
func (k PositionKey) Path() string {
	return k.Venue + ":" + k.Instrument.String() + ":" + k.Symbol
}

func (k PositionKey) String() string {
	return k.Path()
}

// ParsePositionKey inverts Path.
func ParsePositionKey(s string) (PositionKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return PositionKey{}, fmt.Errorf("position key %q: want venue:instrument:symbol", s)
	}
	it, err := ParseInstrumentType(parts[1])
	if err != nil {
		return PositionKey{}, fmt.Errorf("position key %q: %w", s, err)
	}
	if parts[0] == "" || parts[2] == "" {
		return PositionKey{}, fmt.Errorf("position key %q: empty venue or symbol", s)
	}
	return PositionKey{Venue: parts[0], Instrument: it, Symbol: parts[2]}, nil
}

// SortKeys orders keys by venue, instrument, symbol. Every iteration that
// feeds hashing, audit output, or settlement generation goes through this
// order so replays are byte-identical.
func SortKeys(keys []PositionKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Venue != b.Venue {
			return a.Venue < b.Venue
		}
		if a.Instrument != b.Instrument {
			return a.Instrument < b.Instrument
		}
		return a.Symbol < b.Symbol
	})
}
