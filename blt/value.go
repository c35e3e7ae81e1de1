package blt

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/lattice"
)

// ParseValue decodes the BL/T text form of a value: null, true, false, bare
// numbers and words, or JSON for strings, arrays, and objects. Arrays decode
// as sets, objects as dicts.
func ParseValue(s string) (lattice.Value, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "null":
		return lattice.Nothing(), nil
	case "true":
		return lattice.Bool(true), nil
	case "false":
		return lattice.Bool(false), nil
	}

	if c := s[0]; c == '{' || c == '[' || c == '"' {
		var plain any
		if err := json.Unmarshal([]byte(s), &plain); err != nil {
			return lattice.Nothing(), errors.WrapInvalid(err, "BLT", "ParseValue", "value decode")
		}
		return fromPlain(plain)
	}

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return lattice.Number(n), nil
	}
	return lattice.String(s), nil
}

func fromPlain(plain any) (lattice.Value, error) {
	switch t := plain.(type) {
	case nil:
		return lattice.Nothing(), nil
	case bool:
		return lattice.Bool(t), nil
	case float64:
		return lattice.Number(t), nil
	case string:
		return lattice.String(t), nil
	case []any:
		members := make([]lattice.Value, 0, len(t))
		for _, m := range t {
			v, err := fromPlain(m)
			if err != nil {
				return lattice.Nothing(), err
			}
			members = append(members, v)
		}
		return lattice.SetOf(members...), nil
	case map[string]any:
		fields := make(map[string]lattice.Value, len(t))
		for k, m := range t {
			v, err := fromPlain(m)
			if err != nil {
				return lattice.Nothing(), err
			}
			fields[k] = v
		}
		return lattice.DictOf(fields), nil
	default:
		return lattice.Nothing(), errors.WrapInvalid(
			errors.ErrInvalidValue,
			"BLT", "ParseValue", "value decode")
	}
}
