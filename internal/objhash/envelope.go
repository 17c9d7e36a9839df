package objhash

import (
	"bytes"
	"fmt"
)

// Kind identifies the type of object an envelope wraps.
type Kind int

const (
	// KindBlob wraps a file's raw content.
	KindBlob Kind = iota
	// KindTree wraps a serialized directory entry list.
	KindTree
)

// String implements fmt.Stringer exhaustively.
func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	default:
		panic(fmt.Sprintf("objhash: invalid Kind %d", int(k)))
	}
}

// Envelope prepends the Git-compatible "<kind> <size>\0" header to body, the
// same header gitcore.readLooseObjectRaw expects when parsing loose objects.
func Envelope(kind Kind, body []byte) []byte {
	header := fmt.Sprintf("%s %d\x00", kind, len(body))
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out
}

// ParseEnvelope splits a "<kind> <size>\0<body>" buffer back into its kind
// and body, verifying the declared size matches the actual body length.
func ParseEnvelope(raw []byte) (Kind, []byte, error) {
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return 0, nil, fmt.Errorf("objhash: envelope missing NUL header terminator")
	}
	header := string(raw[:nul])
	body := raw[nul+1:]

	var kindStr string
	var size int
	if _, err := fmt.Sscanf(header, "%s %d", &kindStr, &size); err != nil {
		return 0, nil, fmt.Errorf("objhash: malformed envelope header %q: %w", header, err)
	}
	if size != len(body) {
		return 0, nil, fmt.Errorf("objhash: envelope declares %d bytes, body has %d", size, len(body))
	}

	var kind Kind
	switch kindStr {
	case "blob":
		kind = KindBlob
	case "tree":
		kind = KindTree
	default:
		return 0, nil, fmt.Errorf("objhash: unknown envelope kind %q", kindStr)
	}
	return kind, body, nil
}
