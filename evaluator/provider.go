package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mykhaliev/agent-snapshot/model"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/googleai/vertex"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewJudgeLLM initializes the judge model from the dataset's provider
// configuration.
func NewJudgeLLM(ctx context.Context, p model.JudgeProvider) (llms.Model, error) {
	if p.Model == "" {
		return nil, fmt.Errorf("judge provider model is empty")
	}
	isEntraID := p.Type == model.ProviderAzure && strings.EqualFold(p.AuthType, "entra_id")
	if p.Token == "" && p.Type != model.ProviderVertex && !isEntraID {
		return nil, fmt.Errorf("judge provider token is empty")
	}

	switch p.Type {
	case model.ProviderOpenAI, model.ProviderGroq:
		opts := []openai.Option{
			openai.WithToken(p.Token),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		} else if p.Type == model.ProviderGroq {
			opts = append(opts, openai.WithBaseURL("https://api.groq.com/openai/v1"))
		}
		return openai.New(opts...)

	case model.ProviderAnthropic:
		return anthropic.New(
			anthropic.WithToken(p.Token),
			anthropic.WithModel(p.Model),
		)

	case model.ProviderGoogle:
		return googleai.New(ctx,
			googleai.WithAPIKey(p.Token),
			googleai.WithDefaultModel(p.Model),
		)

	case model.ProviderVertex:
		return vertex.New(ctx,
			googleai.WithDefaultModel(p.Model),
			googleai.WithCloudProject(p.ProjectID),
			googleai.WithCloudLocation(p.Location),
			googleai.WithCredentialsFile(p.CredentialsPath),
		)

	case model.ProviderAmazonAnthropic:
		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion(p.Location),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(p.Token, p.Secret, ""),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(cfg)),
			bedrock.WithModel(p.Model),
		)

	case model.ProviderAzure:
		if p.BaseURL == "" || p.Version == "" {
			return nil, fmt.Errorf("Azure judge provider requires baseUrl and version")
		}
		opts := []openai.Option{
			openai.WithModel(p.Model),
			openai.WithBaseURL(p.BaseURL),
			openai.WithAPIVersion(p.Version),
		}
		if isEntraID {
			cred, err := azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return nil, fmt.Errorf("failed to create Azure credential: %w", err)
			}
			token, err := cred.GetToken(ctx, policy.TokenRequestOptions{
				Scopes: []string{"https://cognitiveservices.azure.com/.default"},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to get Azure token: %w", err)
			}
			opts = append(opts,
				openai.WithAPIType(openai.APITypeAzureAD),
				openai.WithToken(token.Token),
			)
		} else {
			opts = append(opts,
				openai.WithAPIType(openai.APITypeAzure),
				openai.WithToken(p.Token),
			)
		}
		return openai.New(opts...)

	default:
		return nil, fmt.Errorf("unsupported judge provider type: %s", p.Type)
	}
}
