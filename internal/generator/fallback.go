package generator

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/promptlab/backend/internal/models"
)

// Tones is the fixed vocabulary the fallback synthesizer picks from.
var Tones = []string{
	"structured",
	"conversational",
	"concise",
	"imaginative",
	"technical",
	"analytical",
}

// Fallback synthesizes placeholder responses when no live backend is
// available or a live call failed. The shape of the text is fixed; only the
// tone is random, drawn from the injected source.
type Fallback struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewFallback returns a synthesizer drawing tones from src. Pass a fixed
// seed for reproducible output.
func NewFallback(src rand.Source) *Fallback {
	return &Fallback{rng: rand.New(src)}
}

// NewTimeSeededFallback is the production default.
func NewTimeSeededFallback() *Fallback {
	return NewFallback(rand.NewSource(time.Now().UnixNano()))
}

func (f *Fallback) tone() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Tones[f.rng.Intn(len(Tones))]
}

// Texts returns one placeholder text per variation of the cell.
func (f *Fallback) Texts(prompt string, ps models.ParameterSet) []string {
	texts := make([]string, ps.Variations)
	for i := range texts {
		texts[i] = renderPlaceholder(prompt, ps, i, f.tone())
	}
	return texts
}

func renderPlaceholder(prompt string, ps models.ParameterSet, variationIndex int, tone string) string {
	return strings.Join([]string{
		fmt.Sprintf("Prompt sample #%d: %s", variationIndex+1, prompt),
		"",
		fmt.Sprintf("This is a simulated response generated with temperature %.2f and top_p %.2f.", ps.Temperature, ps.TopP),
		fmt.Sprintf("Tone guidance: %s.", tone),
		"Replace with a live model response once backend credentials are configured on the server.",
	}, "\n")
}
