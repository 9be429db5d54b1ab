package classify

import (
	"fmt"
	"strings"
)

// Label is an ordered data classification level.
type Label int

const (
	Public Label = iota
	Confidential
	Secret
	TopSecret
)

var labelNames = map[Label]string{
	Public:       "PUBLIC",
	Confidential: "CONFIDENTIAL",
	Secret:       "SECRET",
	TopSecret:    "TOP_SECRET",
}

func (l Label) String() string {
	if name, ok := labelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LABEL(%d)", int(l))
}

// ParseLabel converts a label name to a Label.
func ParseLabel(s string) (Label, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PUBLIC":
		return Public, nil
	case "CONFIDENTIAL":
		return Confidential, nil
	case "SECRET":
		return Secret, nil
	case "TOP_SECRET", "TOPSECRET":
		return TopSecret, nil
	default:
		return Public, fmt.Errorf("unknown classification label: %q", s)
	}
}

// MarshalJSON encodes the label by name.
func (l Label) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON decodes a label name.
func (l *Label) UnmarshalJSON(data []byte) error {
	parsed, err := ParseLabel(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
