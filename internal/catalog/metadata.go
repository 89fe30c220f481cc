package catalog

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// AnyElement matches whichever element comes next at that depth.
const AnyElement = "*"

var (
	// SaveWorldNamePath locates the world name inside a save document; the
	// meta block preceding game is skipped without being decoded.
	SaveWorldNamePath = []string{AnyElement, "game", "world", "info", "name"}
	// ReplayNamePath locates the session name in a replay metadata document.
	ReplayNamePath = []string{AnyElement, "name"}
)

// ReadField walks an XML document forward-only and returns the trimmed text
// of the element reached by path. Each step matches the first child element
// with that local name; non-matching siblings are skipped unread. Nothing
// after the target element is consumed.
//
// Postcondition: Returns ErrMissingField if the path does not exist, or a
// wrapped syntax error if the document is malformed before the target.
func ReadField(r io.Reader, path ...string) (string, error) {
	if len(path) == 0 {
		return "", ErrMissingField
	}
	dec := xml.NewDecoder(r)

	for _, step := range path {
		if err := descend(dec, step); err != nil {
			return "", err
		}
	}
	return readText(dec)
}

// descend consumes tokens until the start of a child element named step.
func descend(dec *xml.Decoder, step string) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return tokenErr(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if step == AnyElement || t.Name.Local == step {
				return nil
			}
			if err := dec.Skip(); err != nil {
				return tokenErr(err)
			}
		case xml.EndElement:
			return ErrMissingField
		}
	}
}

// readText collects character data up to the end of the current element,
// skipping nested elements.
func readText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", tokenErr(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			if err := dec.Skip(); err != nil {
				return "", tokenErr(err)
			}
		case xml.EndElement:
			return strings.TrimSpace(sb.String()), nil
		}
	}
}

func tokenErr(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrMissingField
	}
	return fmt.Errorf("reading metadata: %w", err)
}
