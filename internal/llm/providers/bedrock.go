package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/restflow/restflow/internal/llm"
	"github.com/restflow/restflow/internal/models"
)

// Bedrock implements llm.Provider over AWS Bedrock's Converse streaming API.
// Grounded on internal/agent/providers/bedrock.go, trimmed of its image
// attachment fetch/convert machinery (no attachment concept in this spec).
type Bedrock struct {
	Base
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig configures a Bedrock provider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// NewBedrock builds a Bedrock provider, loading AWS credentials from the
// explicit config fields when present or the default credential chain
// otherwise (environment, shared config, IAM role).
func NewBedrock(cfg BedrockConfig) (*Bedrock, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(), config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &Bedrock{
		Base:         NewBase("bedrock", cfg.MaxRetries, cfg.RetryDelay),
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *Bedrock) SupportsTools() bool { return true }

func (p *Bedrock) Models() []llm.Model {
	return []llm.Model{
		{ID: "anthropic.claude-3-opus-20240229-v1:0", Name: "Claude 3 Opus (Bedrock)", Provider: "bedrock", ContextSize: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "anthropic.claude-3-sonnet-20240229-v1:0", Name: "Claude 3 Sonnet (Bedrock)", Provider: "bedrock", ContextSize: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", Provider: "bedrock", ContextSize: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "amazon.titan-text-express-v1", Name: "Titan Text Express", Provider: "bedrock", ContextSize: 8192, SupportsTools: false},
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", Provider: "bedrock", ContextSize: 8192, SupportsTools: false},
		{ID: "mistral.mixtral-8x7b-instruct-v0:1", Name: "Mixtral 8x7B (Bedrock)", Provider: "bedrock", ContextSize: 32768, SupportsTools: false},
		{ID: "cohere.command-r-plus-v1:0", Name: "Command R+ (Bedrock)", Provider: "bedrock", ContextSize: 128000, SupportsTools: false},
	}
}

func (p *Bedrock) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *Bedrock) Complete(ctx context.Context, req *llm.Request) (<-chan *llm.Chunk, error) {
	if p.client == nil {
		return nil, errors.New("bedrock: client not initialized")
	}

	model := p.getModel(req.Model)

	messages, err := convertBedrockMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > math.MaxInt32 {
			maxTokens = math.MaxInt32
		}
		converseReq.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		}
	}
	if len(req.Tools) > 0 {
		toolConfig, err := convertBedrockTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("bedrock: failed to convert tools: %w", err)
		}
		converseReq.ToolConfig = toolConfig
	}

	var stream *bedrockruntime.ConverseStreamOutput
	retryErr := p.Retry(ctx, isRetryableBedrockError, func() error {
		var callErr error
		stream, callErr = p.client.ConverseStream(ctx, converseReq)
		if callErr != nil {
			return wrapBedrockError(callErr, model)
		}
		return nil
	})
	if retryErr != nil {
		if isRetryableBedrockError(retryErr) {
			return nil, fmt.Errorf("bedrock: max retries exceeded: %w", retryErr)
		}
		return nil, retryErr
	}

	chunks := make(chan *llm.Chunk)
	go processBedrockStream(ctx, stream, chunks, model)
	return chunks, nil
}

func processBedrockStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, chunks chan<- *llm.Chunk, model string) {
	defer close(chunks)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentToolCall *models.ToolCall
	var toolInput strings.Builder

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			chunks <- &llm.Chunk{Error: ctx.Err(), Done: true}
			return
		case event, ok := <-eventChan:
			if !ok {
				if currentToolCall != nil && currentToolCall.ID != "" {
					currentToolCall.Arguments = []byte(toolInput.String())
					chunks <- &llm.Chunk{ToolCall: currentToolCall}
				}
				if err := eventStream.Err(); err != nil {
					chunks <- &llm.Chunk{Error: wrapBedrockError(err, model), Done: true}
				} else {
					chunks <- &llm.Chunk{Done: true}
				}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						chunks <- &llm.Chunk{Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil && currentToolCall.ID != "" {
					currentToolCall.Arguments = []byte(toolInput.String())
					chunks <- &llm.Chunk{ToolCall: currentToolCall}
					currentToolCall = nil
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				chunks <- &llm.Chunk{Done: true}
				return
			}
		}
	}
}

func convertBedrockMessages(messages []models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock
		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		if msg.Role == models.RoleTool {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: msg.Content}},
				},
			})
		}
		for _, tc := range msg.ToolCalls {
			var input any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					input = map[string]any{}
				}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(input),
				},
			})
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		if len(content) > 0 {
			result = append(result, types.Message{Role: role, Content: content})
		}
	}
	return result, nil
}

func convertBedrockTools(decls []llm.ToolDecl) (*types.ToolConfiguration, error) {
	tools := make([]types.Tool, 0, len(decls))
	for _, d := range decls {
		var schema any
		if err := json.Unmarshal(d.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", d.Name, err)
		}
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: tools}, nil
}

// retryableBedrockCodes are the smithy API error codes worth a retry with
// backoff rather than surfacing immediately.
var retryableBedrockCodes = map[string]bool{
	"ThrottlingException":         true,
	"TooManyRequestsException":    true,
	"ServiceUnavailableException": true,
	"ModelTimeoutException":       true,
	"InternalServerException":     true,
}

func isRetryableBedrockError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return retryableBedrockCodes[apiErr.ErrorCode()]
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func wrapBedrockError(err error, model string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("bedrock[%s]: %w", model, err)
}
