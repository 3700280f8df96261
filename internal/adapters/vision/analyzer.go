package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/llm"
	"github.com/sibylhq/sibyl/internal/ports"
)

// AnalyzeTimeout bounds one full image analysis stream.
const AnalyzeTimeout = 2 * time.Minute

const analysisPrompt = `Analyze this image. First transcribe any visible text exactly (OCR). Then describe what the image shows. Format:

TEXT:
<transcribed text, or "none">

DESCRIPTION:
<what the image shows>`

// Analyzer implements ports.ImageAnalyzer on a vision-capable
// OpenAI-compatible chat model.
type Analyzer struct {
	client *llm.Client
}

// NewAnalyzer creates an image analyzer targeting the given vision model.
func NewAnalyzer(client *llm.Client) *Analyzer {
	return &Analyzer{client: client}
}

// AnalyzeStream runs OCR + captioning over the image, forwarding model
// output through the sink as thought events, and returns the combined
// analysis.
func (a *Analyzer) AnalyzeStream(ctx context.Context, data []byte, filename string, sink func(models.StreamEvent)) (*ports.ImageAnalysis, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	ctx, cancel := context.WithTimeout(ctx, AnalyzeTimeout)
	defer cancel()

	dataURL := encodeDataURL(data, filename)
	chunks, err := a.client.ChatStream(ctx, []llm.ChatMessage{
		llm.TextMessage("system", "You are an image analysis assistant."),
		llm.ImageMessage(analysisPrompt, dataURL),
	})
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}

	var full strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, fmt.Errorf("vision stream failed: %w", chunk.Error)
		}
		if chunk.Content != "" {
			full.WriteString(chunk.Content)
			if sink != nil {
				sink(models.ThoughtEvent(chunk.Content))
			}
		}
		if chunk.Done {
			break
		}
	}

	combined := strings.TrimSpace(full.String())
	if combined == "" {
		return nil, fmt.Errorf("vision model returned no content")
	}

	ocrText, description := splitAnalysis(combined)
	imageInfo := fmt.Sprintf("%s (%d bytes)", filename, len(data))

	analysis := &ports.ImageAnalysis{
		CombinedContent:   combined,
		ImageInfo:         imageInfo,
		OCRText:           ocrText,
		VisionDescription: description,
	}
	if sink != nil {
		sink(models.ImageAnalysisCompleteEvent(combined, imageInfo, ocrText, description))
	}
	return analysis, nil
}

// encodeDataURL packs the image into a data: URL with a MIME type guessed
// from the filename; unknown extensions default to PNG.
func encodeDataURL(data []byte, filename string) string {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// splitAnalysis pulls the TEXT and DESCRIPTION sections out of the model
// output; a response that ignored the format lands fully in description.
func splitAnalysis(combined string) (ocrText, description string) {
	upper := combined
	textIdx := strings.Index(upper, "TEXT:")
	descIdx := strings.Index(upper, "DESCRIPTION:")

	switch {
	case textIdx >= 0 && descIdx > textIdx:
		ocrText = strings.TrimSpace(combined[textIdx+len("TEXT:") : descIdx])
		description = strings.TrimSpace(combined[descIdx+len("DESCRIPTION:"):])
	case descIdx >= 0:
		description = strings.TrimSpace(combined[descIdx+len("DESCRIPTION:"):])
	default:
		description = combined
	}
	if strings.EqualFold(ocrText, "none") {
		ocrText = ""
	}
	return ocrText, description
}
