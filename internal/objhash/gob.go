package objhash

import "fmt"

// GobEncode/GobDecode let Hash cross the gob-encoded journal and IPC wire
// formats despite its fields being unexported; the wire shape is just
// algo-byte followed by raw digest bytes.
func (h Hash) GobEncode() ([]byte, error) {
	if h.IsZero() {
		return []byte{}, nil
	}
	out := make([]byte, 0, 1+len(h.digest))
	out = append(out, byte(h.algo))
	out = append(out, h.digest...)
	return out, nil
}

func (h *Hash) GobDecode(data []byte) error {
	if len(data) == 0 {
		*h = Hash{}
		return nil
	}
	algo := Algo(data[0])
	if algo != SHA1 && algo != BLAKE3 {
		return fmt.Errorf("objhash: gob decode: unknown algo byte %d", data[0])
	}
	digest := data[1:]
	if len(digest) != algo.Size() {
		return fmt.Errorf("objhash: gob decode: %w", ErrSize)
	}
	decoded, err := FromBytes(algo, digest)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}
