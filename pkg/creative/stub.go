package creative

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strings"
	"unicode"

	"github.com/thenote/backend/pkg/telemetry"
)

// seedPhrases are the mood-keyed lyric seeds the stub draws from.
var seedPhrases = map[string][]string{
	"uplifting": {
		"Rise like auroras in magnetic skies",
		"Hearts bloom in stereo light",
		"We are the thunder behind the dawn",
	},
	"contemplative": {
		"Echoes drift on lavender dusk",
		"Moonlit questions soften the air",
		"Silence sketches silver outlines",
	},
	"somber": {
		"Rain etches maps on midnight glass",
		"Hollow choirs breathe in grayscale",
		"Embers sleep beneath the pulse",
	},
}

var metaphorAnchors = []string{"nebula", "rainstorm", "heartbeat", "lighthouse"}

var structureMotifs = []string{"Rhythm Swell", "Tonal Bloom", "Dynamic Surge", "Call and Response"}

var structureSections = []string{"Intro", "Verse", "Pre-Chorus", "Chorus", "Bridge", "Outro"}

// StubGenerator produces deterministic mood-seeded content with no
// external calls. It backs tests and serves as the fallback engine when no
// model is configured.
type StubGenerator struct {
	tel    *telemetry.Registry
	logger *slog.Logger
}

// NewStubGenerator creates a stub generator.
func NewStubGenerator(tel *telemetry.Registry, logger *slog.Logger) *StubGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubGenerator{tel: tel, logger: logger}
}

// Generate builds one item per requested mode. Identical requests yield
// identical bundles.
func (g *StubGenerator) Generate(_ context.Context, req *GenerationRequest) (*GenerationBundle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	mood := resolveMood(req.EmotionalGoal)

	outputs := make([]GeneratedItem, 0, len(req.Modes))
	for _, mode := range req.Modes {
		var payload map[string]any
		switch mode {
		case ModeLyric:
			payload = lyricPayload(req.Prompt, mood)
		case ModeMelody:
			payload = melodyPayload(req.Tempo, req.Key)
		case ModeMetaphor:
			payload = metaphorPayload(req.Prompt)
		default:
			payload = structurePayload(req.Prompt)
		}
		outputs = append(outputs, GeneratedItem{
			Type:       mode,
			Payload:    payload,
			Confidence: stubConfidence(req.Prompt, mode),
		})
	}

	g.logger.Info("generation completed",
		"session_id", req.SessionID,
		"request_id", req.RequestID,
		"modes", len(req.Modes),
		"mood", mood)
	if g.tel != nil {
		g.tel.Inc("imagination.requests", 1)
	}
	return &GenerationBundle{
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Outputs:   outputs,
	}, nil
}

// resolveMood maps the emotional goal onto a known seed mood, defaulting
// to uplifting.
func resolveMood(goal string) string {
	if _, ok := seedPhrases[goal]; ok {
		return goal
	}
	return "uplifting"
}

func lyricPayload(prompt, mood string) map[string]any {
	lines := seedPhrases[mood]
	return map[string]any{
		"prompt": titleCase(normalizeText(prompt)),
		"lines":  append([]string(nil), lines...),
	}
}

func melodyPayload(tempo *float64, key string) map[string]any {
	scale := key
	if scale == "" {
		scale = "C"
	}
	bpm := 120.0
	if tempo != nil {
		bpm = *tempo
	}
	notes := []string{"C4", "E4", "G4", "B4", "C5"}
	if strings.HasSuffix(scale, "m") {
		notes = []string{"A3", "C4", "E4", "G4", "A4"}
	}
	durations := []string{"quarter", "eighth", "quarter", "quarter", "half"}
	phrasing := make([]string, len(notes))
	for i, note := range notes {
		phrasing[i] = note + ":" + durations[i]
	}
	return map[string]any{
		"tempo":    bpm,
		"key":      scale,
		"phrasing": phrasing,
	}
}

func metaphorPayload(prompt string) map[string]any {
	elements := strings.Fields(strings.ToLower(normalizeText(prompt)))
	if len(elements) < 2 {
		elements = append(elements, "frequency", "light")
	}
	subject := elements[0]
	anchor := metaphorAnchors[int(hash32(subject))%len(metaphorAnchors)]
	return map[string]any{
		"metaphor": titleCase(subject) + " as a " + anchor,
		"explanation": "The metaphor ties " + subject + " to " + anchor +
			", conveying evolving resonance and dynamic contrast.",
	}
}

func structurePayload(prompt string) map[string]any {
	seed := int(hash32(prompt))
	structure := make([]string, len(structureSections))
	for i, section := range structureSections {
		motif := structureMotifs[(seed+i)%len(structureMotifs)]
		structure[i] = section + ": " + motif
	}
	return map[string]any{"structure": structure}
}

// stubConfidence maps prompt and mode onto a stable value in [0.72, 0.95].
func stubConfidence(prompt string, mode Mode) float64 {
	h := hash32(prompt + ":" + string(mode))
	return 0.72 + 0.23*float64(h%1000)/999
}

func hash32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// normalizeText collapses runs of whitespace into single spaces.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// titleCase upper-cases the first letter of each word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
