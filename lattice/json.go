package lattice

import (
	"encoding/json"
	"fmt"
)

// wireValue is the JSON envelope for Value. Pointer fields keep zero
// scalars (0, false, "") distinguishable from absent ones.
type wireValue struct {
	Kind     string           `json:"kind"`
	Num      *float64         `json:"num,omitempty"`
	Flag     *bool            `json:"bool,omitempty"`
	Str      *string          `json:"str,omitempty"`
	Set      []Value          `json:"set,omitempty"`
	Dict     map[string]Value `json:"dict,omitempty"`
	Conflict *Conflict        `json:"conflict,omitempty"`
	Ord      uint64           `json:"ord,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.Kind.String(), Ord: v.Ord}
	switch v.Kind {
	case KindNothing:
	case KindNumber:
		n := v.Num
		w.Num = &n
	case KindBool:
		b := v.Flag
		w.Flag = &b
	case KindString:
		s := v.Str
		w.Str = &s
	case KindSet:
		if v.Set == nil {
			w.Set = []Value{}
		} else {
			w.Set = v.Set
		}
	case KindDict:
		if v.Dict == nil {
			w.Dict = map[string]Value{}
		} else {
			w.Dict = v.Dict
		}
	case KindContradiction:
		w.Conflict = v.Conflict
	default:
		return nil, fmt.Errorf("marshal: unknown value kind %d", v.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := kindFromString(w.Kind)
	if err != nil {
		return err
	}

	out := Value{Kind: kind, Ord: w.Ord}
	switch kind {
	case KindNothing:
	case KindNumber:
		if w.Num == nil {
			return fmt.Errorf("unmarshal: number value missing num field")
		}
		out.Num = *w.Num
	case KindBool:
		if w.Flag == nil {
			return fmt.Errorf("unmarshal: bool value missing bool field")
		}
		out.Flag = *w.Flag
	case KindString:
		if w.Str == nil {
			return fmt.Errorf("unmarshal: string value missing str field")
		}
		out.Str = *w.Str
	case KindSet:
		out.Set = w.Set
		if out.Set == nil {
			out.Set = []Value{}
		}
	case KindDict:
		out.Dict = w.Dict
		if out.Dict == nil {
			out.Dict = map[string]Value{}
		}
	case KindContradiction:
		if w.Conflict == nil || w.Conflict.Reason == "" {
			return fmt.Errorf("unmarshal: contradiction missing conflict reason")
		}
		out.Conflict = w.Conflict
	}

	*v = out
	return nil
}
