package domain

import "fmt"

// Position is the side of a binary prediction bet: the price either rises
// (Bull) or falls (Bear) between lock and close.
type Position uint8

const (
	PositionBull Position = iota
	PositionBear
)

// String returns the lowercase wire name of the position.
func (p Position) String() string {
	switch p {
	case PositionBull:
		return "bull"
	case PositionBear:
		return "bear"
	default:
		return fmt.Sprintf("position(%d)", uint8(p))
	}
}

// Opposite returns the other side.
func (p Position) Opposite() Position {
	if p == PositionBull {
		return PositionBear
	}
	return PositionBull
}

// Valid reports whether p is one of the two defined sides.
func (p Position) Valid() bool {
	return p == PositionBull || p == PositionBear
}

// ParsePosition converts a wire name ("bull" or "bear") into a Position.
func ParsePosition(s string) (Position, error) {
	switch s {
	case "bull":
		return PositionBull, nil
	case "bear":
		return PositionBear, nil
	default:
		return 0, fmt.Errorf("domain: unknown position %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so positions serialize as
// their wire names in JSON payloads.
func (p Position) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("domain: invalid position %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Position) UnmarshalText(text []byte) error {
	parsed, err := ParsePosition(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
