package creative

import (
	"strings"
	"testing"
)

func TestParseRefinedPrompts(t *testing.T) {
	response := `Here are your prompts.
BASE_IMAGE: A photorealistic LED dog collar on white seamless, studio lighting
VIDEO_ANIMATION: Slow 360 orbit of the collar, glowing pulse, 5 seconds`

	p, err := ParseRefinedPrompts(response)
	if err != nil {
		t.Fatalf("ParseRefinedPrompts failed: %v", err)
	}
	if !strings.HasPrefix(p.ImagePrompt, "A photorealistic LED dog collar") {
		t.Errorf("ImagePrompt = %q", p.ImagePrompt)
	}
	if !strings.HasPrefix(p.VideoPrompt, "Slow 360 orbit") {
		t.Errorf("VideoPrompt = %q", p.VideoPrompt)
	}
}

func TestParseRefinedPrompts_ReversedOrder(t *testing.T) {
	response := `VIDEO_ANIMATION: pan across the product
BASE_IMAGE: product on a marble counter`

	p, err := ParseRefinedPrompts(response)
	if err != nil {
		t.Fatalf("ParseRefinedPrompts failed: %v", err)
	}
	if p.ImagePrompt != "product on a marble counter" {
		t.Errorf("ImagePrompt = %q", p.ImagePrompt)
	}
	if p.VideoPrompt != "pan across the product" {
		t.Errorf("VideoPrompt = %q", p.VideoPrompt)
	}
}

func TestParseRefinedPrompts_MultilinePrompt(t *testing.T) {
	response := `BASE_IMAGE: a posture corrector worn by a mannequin,
soft window light
VIDEO_ANIMATION: gentle zoom out`

	p, err := ParseRefinedPrompts(response)
	if err != nil {
		t.Fatalf("ParseRefinedPrompts failed: %v", err)
	}
	if !strings.Contains(p.ImagePrompt, "soft window light") {
		t.Errorf("Multiline image prompt truncated: %q", p.ImagePrompt)
	}
}

func TestParseRefinedPrompts_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		response string
	}{
		{"no markers", "just some prose about the product"},
		{"missing video marker", "BASE_IMAGE: a nice image prompt"},
		{"missing image marker", "VIDEO_ANIMATION: a nice video prompt"},
		{"empty image prompt", "BASE_IMAGE:\nVIDEO_ANIMATION: animate it"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseRefinedPrompts(tc.response); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestFallbackPrompts(t *testing.T) {
	p := FallbackPrompts("LED Dog Collar", "pets")
	if !strings.Contains(p.ImagePrompt, "LED Dog Collar") {
		t.Errorf("ImagePrompt missing product title: %q", p.ImagePrompt)
	}
	if !strings.Contains(p.ImagePrompt, "pets") {
		t.Errorf("ImagePrompt missing category: %q", p.ImagePrompt)
	}
	if p.VideoPrompt == "" {
		t.Error("VideoPrompt empty")
	}

	// Category is optional.
	p = FallbackPrompts("Mystery Widget", "")
	if strings.Contains(p.ImagePrompt, "()") {
		t.Errorf("Empty category leaked parens: %q", p.ImagePrompt)
	}
}
