package creative

import (
	"fmt"
	"strings"
)

// =============================================================================
// PROMPT REFINEMENT
// =============================================================================

// RefinedPrompts carries the two-stage prompts for a product: a still
// base image, then an animation brief that moves that image.
type RefinedPrompts struct {
	ImagePrompt string
	VideoPrompt string
}

const (
	imageMarker = "BASE_IMAGE:"
	videoMarker = "VIDEO_ANIMATION:"
)

// refinementInstruction asks the text model to emit both prompts behind
// fixed markers so the response parses without a schema.
func refinementInstruction(title, category string) string {
	return fmt.Sprintf(`You are an ad creative director for a dropshipping store.
Product: %s
Category: %s

Write two prompts for generating a short marketing ad:
1. A prompt for a photorealistic base product image.
2. A prompt for animating that exact image into a 5-second video ad.

Respond in exactly this format:
%s <image prompt on one line>
%s <video prompt on one line>`, title, category, imageMarker, videoMarker)
}

// ParseRefinedPrompts extracts the two prompts from a model response.
// Markers may appear anywhere in the text; everything after a marker up
// to the next marker (or end) belongs to that prompt.
func ParseRefinedPrompts(response string) (RefinedPrompts, error) {
	var p RefinedPrompts

	imgIdx := strings.Index(response, imageMarker)
	vidIdx := strings.Index(response, videoMarker)
	if imgIdx < 0 || vidIdx < 0 {
		return p, fmt.Errorf("response missing %s or %s marker", imageMarker, videoMarker)
	}

	if imgIdx < vidIdx {
		p.ImagePrompt = strings.TrimSpace(response[imgIdx+len(imageMarker) : vidIdx])
		p.VideoPrompt = strings.TrimSpace(response[vidIdx+len(videoMarker):])
	} else {
		p.VideoPrompt = strings.TrimSpace(response[vidIdx+len(videoMarker) : imgIdx])
		p.ImagePrompt = strings.TrimSpace(response[imgIdx+len(imageMarker):])
	}

	if p.ImagePrompt == "" || p.VideoPrompt == "" {
		return p, fmt.Errorf("response has empty prompt after marker")
	}
	return p, nil
}

// FallbackPrompts builds serviceable prompts directly from the product
// fields when refinement fails. Generation proceeds either way.
func FallbackPrompts(title, category string) RefinedPrompts {
	subject := title
	if category != "" {
		subject = fmt.Sprintf("%s (%s)", title, category)
	}
	return RefinedPrompts{
		ImagePrompt: fmt.Sprintf("Photorealistic studio product shot of %s on a clean seamless background, soft key lighting, high detail", subject),
		VideoPrompt: fmt.Sprintf("Slow cinematic orbit around %s, shallow depth of field, subtle light sweep, 5 second product ad", subject),
	}
}
