package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"cropdoc-backend/internal/i18n"
	"cropdoc-backend/internal/models"
)

const DefaultAnalysisModel = "gemini-2.5-flash"

// Messages carried by DiagnosisError, one per failure kind.
const (
	msgContentBlocked  = "The image could not be analyzed due to our safety policies. Please use a different image."
	msgNoAnalysis      = "The model could not analyze this image. Please try a clear, well-lit photo."
	msgInvalidResponse = "Received an unexpected response from the model. Please try again later."
	msgAPIFailure      = "Analysis failed due to a network or server issue. Please check your internet connection and try again."
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// DiagnosisService classifies plant photos with a schema-constrained Gemini model.
type DiagnosisService struct {
	client *genai.Client
	model  contentGenerator
	gate   *RateGate
}

func NewDiagnosisService(apiKey, modelName string, gate *RateGate) (*DiagnosisService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if modelName == "" {
		modelName = DefaultAnalysisModel
	}
	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = analysisSchema

	return &DiagnosisService{
		client: client,
		model:  model,
		gate:   gate,
	}, nil
}

func (s *DiagnosisService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Analyze sends one image and the language's instruction prompt. Every failure is a
// *models.DiagnosisError; nothing is retried.
func (s *DiagnosisService) Analyze(ctx context.Context, image []byte, mimeType string, lang i18n.Language) (*models.DiagnosisResult, error) {
	if err := s.gate.Acquire(ctx); err != nil {
		return nil, &models.DiagnosisError{Kind: models.APIFailure, Message: msgAPIFailure, Err: err}
	}
	defer s.gate.Release()

	resp, err := s.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: image},
		genai.Text(diagnosisPrompt(lang)),
	)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return nil, &models.DiagnosisError{Kind: models.ContentBlocked, Message: msgContentBlocked, Err: err}
		}
		log.Printf("Error analyzing crop image: %v", err)
		return nil, &models.DiagnosisError{Kind: models.APIFailure, Message: msgAPIFailure, Err: err}
	}

	return parseDiagnosis(resp)
}

func parseDiagnosis(resp *genai.GenerateContentResponse) (*models.DiagnosisResult, error) {
	text := trimJSONFence(extractText(resp))
	if text == "" {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return nil, &models.DiagnosisError{Kind: models.ContentBlocked, Message: msgContentBlocked}
		}
		return nil, &models.DiagnosisError{Kind: models.NoAnalysis, Message: msgNoAnalysis}
	}

	var result models.DiagnosisResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		log.Printf("Error parsing diagnosis JSON: %q", text)
		return nil, &models.DiagnosisError{Kind: models.InvalidResponse, Message: msgInvalidResponse, Err: err}
	}
	if !result.Status.Valid() {
		return nil, &models.DiagnosisError{
			Kind:    models.InvalidResponse,
			Message: msgInvalidResponse,
			Err:     fmt.Errorf("unknown status %q", result.Status),
		}
	}

	NormalizeDiagnosis(&result)
	return &result, nil
}

// NormalizeDiagnosis keeps controlMeasures only for diseased results and
// preventativeMeasures only for healthy ones, whatever the model returned.
func NormalizeDiagnosis(r *models.DiagnosisResult) {
	switch r.Status {
	case models.StatusHealthy:
		r.ControlMeasures = nil
	case models.StatusDiseased:
		r.PreventativeMeasures = nil
	default:
		r.ControlMeasures = nil
		r.PreventativeMeasures = nil
	}
}

var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"status": {
			Type:        genai.TypeString,
			Description: "The status of the image. Must be 'healthy', 'diseased', or 'irrelevant' if the image does not contain a plant, leaf, or crop.",
			Enum:        []string{"healthy", "diseased", "irrelevant"},
		},
		"diseaseName": {
			Type:        genai.TypeString,
			Description: "If diseased, the common name of the disease. If healthy, this should be 'Healthy Plant'. If irrelevant, this should be 'Irrelevant Image'.",
		},
		"description": {
			Type:        genai.TypeString,
			Description: "A brief description of the findings.",
		},
		"controlMeasures": {
			Type:        genai.TypeArray,
			Description: "If the plant is diseased, provide a list of at least three actionable control/cure measures. This field should be omitted if the plant is healthy or the image is irrelevant.",
			Items:       &genai.Schema{Type: genai.TypeString},
		},
		"preventativeMeasures": {
			Type:        genai.TypeArray,
			Description: "If the plant is healthy, provide a list of general preventative tips. This field should be omitted if the plant is diseased or the image is irrelevant.",
			Items:       &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"status", "diseaseName", "description"},
}

func diagnosisPrompt(lang i18n.Language) string {
	if lang == i18n.Bengali {
		return promptBengali
	}
	return promptEnglish
}

const promptBengali = `You are an expert agricultural pathologist specializing in farming in Bangladesh. Your audience is local farmers.
Your entire JSON output, including all string values for keys like 'diseaseName', 'description', etc., MUST be in simple, clear Bengali.
However, for critical technical terms like disease names or chemical names, you MUST also include the English equivalent in parentheses. For example: 'ম্যানকোজেব (Mancozeb)'.

Your first task is to determine if the uploaded image contains a plant, leaf, or any part of a crop.
- If the image is NOT of a plant/leaf (e.g., it's a picture of a person, an object, etc.), set 'status' to 'irrelevant'. For 'diseaseName', use 'অবান্তর ছবি (Irrelevant Image)'. Provide a friendly explanation in the 'description' field in Bengali, stating that this application is for identifying crop diseases.
- If the image IS of a plant/leaf, analyze it for diseases.

If analyzing a plant/leaf:
- Determine if it is 'healthy' or 'diseased'.
- If 'diseased', identify the disease (both Bengali and English name, e.g., 'আলুর বিলম্বিত ধসা (Late Blight of Potato)'), describe it, and provide actionable control measures.
- If 'healthy', confirm its status with 'diseaseName' as 'সুস্থ উদ্ভিদ (Healthy Plant)', provide a reassuring description, and suggest general preventative measures.

Adhere strictly to the provided JSON schema.`

const promptEnglish = `You are an expert agricultural pathologist. Your audience is farmers.
Your entire JSON output, including all string values for keys like 'diseaseName', 'description', etc., MUST be in simple, clear English.
For scientific or non-common technical terms, you may include them in parentheses if it adds clarity.

Your first task is to determine if the uploaded image contains a plant, leaf, or any part of a crop.
- If the image is NOT of a plant/leaf (e.g., a person, an object), set 'status' to 'irrelevant'. Use 'Irrelevant Image' for 'diseaseName'. Provide a friendly explanation in the 'description' field in English.
- If the image IS of a plant/leaf, analyze it for diseases.

If analyzing a plant/leaf:
- Determine if it is 'healthy' or 'diseased'.
- If 'diseased', identify the disease, describe it, and provide actionable control measures.
- If 'healthy', confirm its status with 'diseaseName' as 'Healthy Plant', provide a reassuring description, and suggest general preventative measures.

Adhere strictly to the provided JSON schema.`
