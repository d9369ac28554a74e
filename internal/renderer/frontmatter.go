package renderer

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// FrontMatter holds the recognised keys of a YAML front matter block.
type FrontMatter struct {
	Title string `yaml:"title"`
}

var (
	fenceLF   = []byte("---\n")
	fenceCRLF = []byte("---\r\n")
)

// SplitFrontMatter separates a leading `---` delimited YAML block from the
// markdown body. Documents without front matter are returned unchanged.
func SplitFrontMatter(source []byte) (FrontMatter, []byte, error) {
	var meta FrontMatter

	var fence []byte
	switch {
	case bytes.HasPrefix(source, fenceLF):
		fence = fenceLF
	case bytes.HasPrefix(source, fenceCRLF):
		fence = fenceCRLF
	default:
		return meta, source, nil
	}

	rest := source[len(fence):]
	end := bytes.Index(rest, append([]byte("\n"), fence...))
	var block, body []byte
	switch {
	case bytes.HasPrefix(rest, fence):
		block, body = nil, rest[len(fence):]
	case end >= 0:
		block, body = rest[:end+1], rest[end+1+len(fence):]
	default:
		// An unterminated fence is a thematic break, not front matter.
		return meta, source, nil
	}

	if err := yaml.Unmarshal(block, &meta); err != nil {
		return FrontMatter{}, nil, fmt.Errorf("parsing front matter: %w", err)
	}

	return meta, body, nil
}
