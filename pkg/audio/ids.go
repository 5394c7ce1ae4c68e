package audio

import (
	"encoding/hex"
	"regexp"

	"github.com/google/uuid"
)

// Wire identifiers are a fixed prefix plus 32 lowercase hex characters.
var (
	chunkIDPattern  = regexp.MustCompile(`^chunk_[0-9a-f]{32}$`)
	renderIDPattern = regexp.MustCompile(`^render_[0-9a-f]{32}$`)
	genIDPattern    = regexp.MustCompile(`^gen_[0-9a-f]{32}$`)
)

func newHex32() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// NewFrameID returns a fresh frame identifier.
func NewFrameID() string { return "frame_" + newHex32() }

// NewChunkID returns a fresh transcript chunk identifier.
func NewChunkID() string { return "chunk_" + newHex32() }

// NewRenderID returns a fresh render identifier.
func NewRenderID() string { return "render_" + newHex32() }

// NewGenerationID returns a fresh generation request identifier.
func NewGenerationID() string { return "gen_" + newHex32() }

// ValidFrameID reports whether id is a well-formed frame identifier.
func ValidFrameID(id string) bool { return frameIDPattern.MatchString(id) }

// ValidChunkID reports whether id is a well-formed chunk identifier.
func ValidChunkID(id string) bool { return chunkIDPattern.MatchString(id) }

// ValidRenderID reports whether id is a well-formed render identifier.
func ValidRenderID(id string) bool { return renderIDPattern.MatchString(id) }

// ValidGenerationID reports whether id is a well-formed generation identifier.
func ValidGenerationID(id string) bool { return genIDPattern.MatchString(id) }
