package creative

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/genai"

	"dropforge/internal/config"
	"dropforge/internal/logging"
)

// =============================================================================
// GEMINI GENERATOR
// =============================================================================

// videoPollInterval is how often the pending video operation is checked.
const videoPollInterval = 5 * time.Second

// GeminiGenerator renders campaign creatives with the Gemini API:
// text model for prompt refinement, Imagen for the base image, Veo for
// the animated video. Assets are written under the configured output
// directory as <campaignID>.png / <campaignID>.mp4.
type GeminiGenerator struct {
	client     *genai.Client
	textModel  string
	imageModel string
	videoModel string
	outputDir  string
}

// NewGeminiGenerator creates a generator from the creative config.
func NewGeminiGenerator(ctx context.Context, cfg config.CreativeConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (set GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &GeminiGenerator{
		client:     client,
		textModel:  cfg.TextModel,
		imageModel: cfg.ImageModel,
		videoModel: cfg.VideoModel,
		outputDir:  cfg.OutputDir,
	}, nil
}

// Generate runs one full creative attempt. Partial output is not an
// asset: a video failure fails the attempt even though the image
// rendered, and the executor retries the whole flow.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Asset, error) {
	timer := logging.StartTimer(logging.CategoryCampaign, "creative.Generate")
	defer timer.Stop()

	prompts := g.refinePrompts(ctx, req)

	image, err := g.generateImage(ctx, prompts.ImagePrompt)
	if err != nil {
		return Asset{}, fmt.Errorf("image generation failed: %w", err)
	}
	imagePath := filepath.Join(g.outputDir, req.CampaignID+".png")
	if err := os.WriteFile(imagePath, image.ImageBytes, 0644); err != nil {
		return Asset{}, fmt.Errorf("failed to write image: %w", err)
	}
	logging.CampaignDebug("Base image for %s written to %s", req.CampaignID, imagePath)

	videoPath := filepath.Join(g.outputDir, req.CampaignID+".mp4")
	if err := g.generateVideo(ctx, prompts.VideoPrompt, image, videoPath); err != nil {
		return Asset{}, fmt.Errorf("video generation failed: %w", err)
	}

	return Asset{ImageRef: imagePath, VideoRef: videoPath}, nil
}

// refinePrompts asks the text model for tailored prompts, falling back
// to templated ones when the call or the parse fails.
func (g *GeminiGenerator) refinePrompts(ctx context.Context, req Request) RefinedPrompts {
	instruction := refinementInstruction(req.Title, req.Category)

	result, err := g.client.Models.GenerateContent(ctx,
		g.textModel,
		genai.Text(instruction),
		nil,
	)
	if err != nil {
		logging.CampaignDebug("Prompt refinement failed for %s, using fallback: %v", req.CampaignID, err)
		return FallbackPrompts(req.Title, req.Category)
	}

	prompts, err := ParseRefinedPrompts(result.Text())
	if err != nil {
		logging.CampaignDebug("Prompt refinement unparseable for %s, using fallback: %v", req.CampaignID, err)
		return FallbackPrompts(req.Title, req.Category)
	}
	return prompts
}

func (g *GeminiGenerator) generateImage(ctx context.Context, prompt string) (*genai.Image, error) {
	result, err := g.client.Models.GenerateImages(ctx,
		g.imageModel,
		prompt,
		&genai.GenerateImagesConfig{
			NumberOfImages: 1,
		},
	)
	if err != nil {
		return nil, err
	}
	if len(result.GeneratedImages) == 0 || result.GeneratedImages[0].Image == nil {
		return nil, fmt.Errorf("no image returned")
	}
	return result.GeneratedImages[0].Image, nil
}

// generateVideo animates the base image and polls the long-running
// operation until it finishes or ctx expires.
func (g *GeminiGenerator) generateVideo(ctx context.Context, prompt string, image *genai.Image, outPath string) error {
	op, err := g.client.Models.GenerateVideos(ctx,
		g.videoModel,
		prompt,
		image,
		nil,
	)
	if err != nil {
		return err
	}

	for !op.Done {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(videoPollInterval):
		}
		op, err = g.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return fmt.Errorf("video operation poll failed: %w", err)
		}
	}

	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		return fmt.Errorf("no video returned")
	}
	video := op.Response.GeneratedVideos[0].Video
	if video == nil {
		return fmt.Errorf("video operation finished without asset")
	}
	if len(video.VideoBytes) == 0 {
		if _, err := g.client.Files.Download(ctx, video, nil); err != nil {
			return fmt.Errorf("video download failed: %w", err)
		}
	}
	if err := os.WriteFile(outPath, video.VideoBytes, 0644); err != nil {
		return fmt.Errorf("failed to write video: %w", err)
	}
	return nil
}
