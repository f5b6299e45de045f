package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/vitohq/document-intelligence/pkg/logger"
)

// tesseractModelVersion is recorded on the usage ledger; bump it when
// the bundled tesseract engine changes.
const tesseractModelVersion = "tesseract-5"

// TesseractProvider runs OCR locally with tesseract. PDFs with an
// embedded text layer skip OCR entirely and read the text layer.
type TesseractProvider struct {
	logger logger.Logger
	config *TesseractConfig
}

type TesseractConfig struct {
	// Languages passed to tesseract when the profile rules carry none.
	Languages []string
	// Preprocess runs grayscale/contrast normalization before OCR.
	Preprocess bool
}

func NewTesseractProvider(cfg *TesseractConfig, log logger.Logger) *TesseractProvider {
	if cfg == nil {
		cfg = &TesseractConfig{Languages: []string{"eng"}, Preprocess: true}
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	return &TesseractProvider{logger: log, config: cfg}
}

func (p *TesseractProvider) Name() string {
	return "tesseract"
}

func (p *TesseractProvider) Extract(ctx context.Context, data []byte, mimeType string, rawRules json.RawMessage) (*Result, error) {
	start := time.Now()

	rules, err := ParseRules(rawRules)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction rules: %w", err)
	}

	switch {
	case mimeType == "application/pdf":
		return p.extractPDF(data, start)
	case strings.HasPrefix(mimeType, "image/"):
		return p.extractImage(ctx, data, rules, start)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
}

// extractPDF reads the embedded text layer page by page. Text-layer
// extraction is deterministic, so confidence is fixed high.
func (p *TesseractProvider) extractPDF(data []byte, start time.Time) (*Result, error) {
	texts, err := PDFPageTexts(data)
	if err != nil {
		return nil, err
	}

	items := []ExtractedItem{}
	for pageNum, text := range texts {
		if text == "" {
			continue
		}
		structured, _ := json.Marshal(map[string]interface{}{
			"type": "page",
			"page": pageNum + 1,
		})
		items = append(items, ExtractedItem{
			RawText:        text,
			StructuredData: structured,
			Confidence:     0.99,
		})
	}

	return &Result{
		Items:        items,
		Pages:        len(texts),
		Provider:     p.Name(),
		ModelVersion: tesseractModelVersion,
		Duration:     time.Since(start),
	}, nil
}

func (p *TesseractProvider) extractImage(ctx context.Context, data []byte, rules Rules, start time.Time) (*Result, error) {
	if p.config.Preprocess {
		processed, err := p.preprocess(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
		data = processed
	}

	client := gosseract.NewClient()
	defer client.Close()

	languages := rules.Languages
	if len(languages) == 0 {
		languages = p.config.Languages
	}
	if err := client.SetLanguage(languages...); err != nil {
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	items := []ExtractedItem{}
	for i, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		structured, _ := json.Marshal(map[string]interface{}{
			"type": "line",
			"line": i + 1,
		})
		items = append(items, ExtractedItem{
			RawText:        text,
			StructuredData: structured,
			Confidence:     box.Confidence / 100,
		})
	}

	return &Result{
		Items:        items,
		Pages:        1,
		Provider:     p.Name(),
		ModelVersion: tesseractModelVersion,
		Duration:     time.Since(start),
	}, nil
}

// preprocess normalizes the image for OCR: grayscale plus a mild
// contrast/sharpen pass.
func (p *TesseractProvider) preprocess(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	img = imaging.Grayscale(img)
	img = imaging.AdjustContrast(img, 10)
	img = imaging.Sharpen(img, 0.5)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
