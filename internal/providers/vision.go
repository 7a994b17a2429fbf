package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/tome/internal/book"
)

const (
	VisionName         = "vision"
	visionDefaultModel = openai.ChatModelGPT4o
)

// csvRowsSchema validates model output for CSV export parsing. The model runs
// in JSON mode; validation happens locally so malformed output is caught
// before it reaches a pipeline.
const csvRowsSchema = `{
  "type": "object",
  "required": ["books"],
  "properties": {
    "books": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "author": {"type": "string"},
          "isbn13": {"type": "string"},
          "isbn10": {"type": "string"}
        }
      }
    }
  }
}`

// shelfScanSchema validates model output for shelf photo scans.
const shelfScanSchema = `{
  "type": "object",
  "required": ["books"],
  "properties": {
    "books": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "author": {"type": "string"},
          "confidence": {"type": "number"}
        }
      }
    }
  }
}`

const csvParsePrompt = `You are given the raw text of a book list export (often Goodreads CSV).
Extract every book as JSON: {"books": [{"title": "...", "author": "...", "isbn13": "...", "isbn10": "..."}]}.
Omit fields you cannot determine. Strip surrounding quotes and Excel-style ="..." wrappers from ISBNs.`

const shelfScanPrompt = `You are looking at a photo of a bookshelf.
Identify every visible book spine as JSON: {"books": [{"title": "...", "author": "...", "confidence": 0.0}]}.
Confidence is between 0 and 1. Omit the author when it is not legible.`

// ParsedRow is one book extracted from a CSV export.
type ParsedRow struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN13 string `json:"isbn13"`
	ISBN10 string `json:"isbn10"`
}

// SpineCandidate is one book identified in a shelf photo.
type SpineCandidate struct {
	Title      string  `json:"title"`
	Author     string  `json:"author"`
	Confidence float64 `json:"confidence"`
}

// VisionConfig holds configuration for the vision client.
type VisionConfig struct {
	APIKey     Secret
	Model      string
	Timeout    time.Duration
	RPS        float64
	BaseURL    string       // Optional (tests)
	HTTPClient *http.Client // Optional (tests)
}

// VisionClient extracts structured book lists from CSV exports and shelf
// photos using a multimodal model.
type VisionClient struct {
	model   string
	timeout time.Duration
	client  openai.Client

	csvSchema   *jsonschema.Schema
	shelfSchema *jsonschema.Schema
}

// NewVisionClient creates a new vision client.
func NewVisionClient(cfg VisionConfig) (*VisionClient, error) {
	if cfg.Model == "" {
		cfg.Model = visionDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	var key string
	if cfg.APIKey != nil {
		key, _ = cfg.APIKey.Get()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.RPS)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	csvSchema, err := jsonschema.CompileString("csv_rows.json", csvRowsSchema)
	if err != nil {
		return nil, fmt.Errorf("compiling csv schema: %w", err)
	}
	shelfSchema, err := jsonschema.CompileString("shelf_scan.json", shelfScanSchema)
	if err != nil {
		return nil, fmt.Errorf("compiling shelf schema: %w", err)
	}

	return &VisionClient{
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		client:      openai.NewClient(opts...),
		csvSchema:   csvSchema,
		shelfSchema: shelfSchema,
	}, nil
}

func (c *VisionClient) Name() book.Provider {
	return book.ProviderVision
}

// ParseCSV extracts book rows from raw CSV export text.
func (c *VisionClient) ParseCSV(ctx context.Context, csvText string) ([]ParsedRow, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(csvParsePrompt),
		openai.UserMessage(csvText),
	}

	raw, err := c.complete(ctx, messages, c.csvSchema)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Books []ParsedRow `json:"books"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding csv parse result: %w", err)
	}
	return payload.Books, nil
}

// ScanShelf identifies books in a shelf photo.
func (c *VisionClient) ScanShelf(ctx context.Context, image []byte, mimeType string) ([]SpineCandidate, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(shelfScanPrompt),
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart("Identify the books on this shelf."),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		}),
	}

	raw, err := c.complete(ctx, messages, c.shelfSchema)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Books []SpineCandidate `json:"books"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding shelf scan result: %w", err)
	}
	return payload.Books, nil
}

// complete runs one JSON-mode completion and validates the output against
// schema before returning it.
func (c *VisionClient) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, schema *jsonschema.Schema) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vision completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vision completion returned no choices")
	}

	content := resp.Choices[0].Message.Content

	var decoded any
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return nil, fmt.Errorf("vision output is not valid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("vision output failed schema validation: %w", err)
	}

	return json.RawMessage(content), nil
}
