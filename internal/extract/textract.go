package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/vitohq/document-intelligence/pkg/logger"
)

// TextractProvider extracts text and form fields with AWS Textract.
type TextractProvider struct {
	client *textract.Client
	logger logger.Logger
	config *TextractConfig
}

type TextractConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	// MinConfidence drops LINE blocks below this value (0-100, the
	// Textract scale).
	MinConfidence float32
	EnableForms   bool
}

func NewTextractProvider(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractProvider, error) {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKey,
		cfg.SecretKey,
		"",
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &TextractProvider{
		client: textract.NewFromConfig(awsCfg),
		logger: log,
		config: cfg,
	}, nil
}

func (p *TextractProvider) Name() string {
	return "textract"
}

func (p *TextractProvider) Extract(ctx context.Context, data []byte, mimeType string, rawRules json.RawMessage) (*Result, error) {
	start := time.Now()

	rules, err := ParseRules(rawRules)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction rules: %w", err)
	}

	featureTypes := []types.FeatureType{}
	if p.config.EnableForms {
		featureTypes = append(featureTypes, types.FeatureTypeForms)
	}
	if len(rules.Queries) > 0 {
		featureTypes = append(featureTypes, types.FeatureTypeQueries)
	}
	if len(featureTypes) == 0 {
		featureTypes = append(featureTypes, types.FeatureTypeForms)
	}

	input := &textract.AnalyzeDocumentInput{
		Document: &types.Document{
			Bytes: data,
		},
		FeatureTypes: featureTypes,
	}

	if len(rules.Queries) > 0 {
		queries := make([]types.Query, 0, len(rules.Queries))
		for _, q := range rules.Queries {
			query := types.Query{Text: strPtr(q.Text)}
			if q.Alias != "" {
				query.Alias = strPtr(q.Alias)
			}
			queries = append(queries, query)
		}
		input.QueriesConfig = &types.QueriesConfig{Queries: queries}
	}

	result, err := p.client.AnalyzeDocument(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze document: %w", err)
	}

	items := []ExtractedItem{}
	pages := 0

	for _, block := range result.Blocks {
		if block.BlockType == types.BlockTypePage {
			pages++
		}
	}

	// Plain text lines above the confidence floor.
	for _, block := range result.Blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		if block.Confidence == nil || *block.Confidence < p.config.MinConfidence {
			continue
		}
		structured, _ := json.Marshal(map[string]interface{}{
			"type": "line",
		})
		items = append(items, ExtractedItem{
			RawText:        *block.Text,
			StructuredData: structured,
			Confidence:     float64(*block.Confidence) / 100,
		})
	}

	// Key/value pairs from form analysis.
	if p.config.EnableForms {
		for _, field := range p.collectForms(result.Blocks) {
			structured, _ := json.Marshal(map[string]interface{}{
				"type":  "form_field",
				"field": field.Key,
				"value": field.Value,
			})
			items = append(items, ExtractedItem{
				RawText:        fmt.Sprintf("%s: %s", field.Key, field.Value),
				StructuredData: structured,
				Confidence:     field.Confidence,
			})
		}
	}

	if pages == 0 {
		pages = 1
	}

	modelVersion := ""
	if result.AnalyzeDocumentModelVersion != nil {
		modelVersion = *result.AnalyzeDocumentModelVersion
	}

	return &Result{
		Items:        items,
		Pages:        pages,
		Provider:     p.Name(),
		ModelVersion: modelVersion,
		Duration:     time.Since(start),
	}, nil
}

type formField struct {
	Key        string
	Value      string
	Confidence float64
}

func (p *TextractProvider) collectForms(blocks []types.Block) []formField {
	var forms []formField

	for _, block := range blocks {
		if block.BlockType != types.BlockTypeKeyValueSet ||
			len(block.EntityTypes) == 0 ||
			block.EntityTypes[0] != types.EntityTypeKey {
			continue
		}

		key := p.textFromRelationships(block.Relationships, blocks)
		value := p.valueFromKeyBlock(block, blocks)

		if key == "" {
			continue
		}
		confidence := 0.0
		if block.Confidence != nil {
			confidence = float64(*block.Confidence) / 100
		}
		forms = append(forms, formField{
			Key:        key,
			Value:      value,
			Confidence: confidence,
		})
	}

	return forms
}

func (p *TextractProvider) textFromRelationships(relationships []types.Relationship, blocks []types.Block) string {
	var text strings.Builder

	for _, rel := range relationships {
		if rel.Type != types.RelationshipTypeChild {
			continue
		}
		for _, id := range rel.Ids {
			for _, block := range blocks {
				if block.Id != nil && *block.Id == id && block.Text != nil {
					text.WriteString(*block.Text)
					text.WriteString(" ")
				}
			}
		}
	}

	return strings.TrimSpace(text.String())
}

func (p *TextractProvider) valueFromKeyBlock(keyBlock types.Block, blocks []types.Block) string {
	for _, rel := range keyBlock.Relationships {
		if rel.Type != types.RelationshipTypeValue {
			continue
		}
		for _, id := range rel.Ids {
			for _, block := range blocks {
				if block.Id != nil && *block.Id == id {
					return p.textFromRelationships(block.Relationships, blocks)
				}
			}
		}
	}
	return ""
}

func strPtr(s string) *string { return &s }
