// Package variant describes the two regression front-ends served by the
// service and turns a raw model scalar into what the page displays.
package variant

import (
	"errors"
	"fmt"
	"strings"
)

// Names accepted by ByName.
const (
	NameAge    = "age"
	NameCardio = "cardio"
)

// RiskThreshold is the CIMT clinical cutoff in millimetres. Values at or above
// it are high risk.
const RiskThreshold = 0.9

// Risk levels reported by the cardio variant.
const (
	LevelHigh = "HIGH RISK"
	LevelLow  = "LOW RISK"
)

// ErrUnknownVariant is returned by ByName for unrecognised names.
var ErrUnknownVariant = errors.New("unknown variant")

// Texts holds the user-facing strings of one variant.
type Texts struct {
	Icon           string `json:"icon"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	UploadLabel    string `json:"uploadLabel"`
	ImageCaption   string `json:"imageCaption"`
	ActionLabel    string `json:"actionLabel"`
	SpinnerText    string `json:"spinnerText"`
	SuccessBanner  string `json:"successBanner,omitempty"`
	ProcessError   string `json:"processError"`
	LoadFailBanner string `json:"loadFailBanner"`
}

// Risk describes a threshold classification.
type Risk struct {
	Level          string `json:"level"`
	Banner         string `json:"banner"`
	Interpretation string `json:"interpretation"`
	High           bool   `json:"high"`
}

// Result is the formatted view of one prediction.
type Result struct {
	MetricLabel string  `json:"metricLabel"`
	Value       float64 `json:"value"`
	Formatted   string  `json:"formatted"`
	Risk        *Risk   `json:"risk,omitempty"`
}

// Variant is the per-front-end strategy: texts, model location and the
// formatting and classification of the prediction.
type Variant struct {
	Name         string
	Texts        Texts
	MetricLabel  string
	ValueFormat  string
	ModelFile    string
	TrainingHint string
	classify     func(v float64) *Risk
}

// Age returns the biological age variant.
func Age() Variant {
	return Variant{
		Name: NameAge,
		Texts: Texts{
			Icon:           "👁️",
			Title:          "Retinal Age Predictor",
			Description:    "Upload a fundus image to predict biological age.",
			UploadLabel:    "Choose a retinal image...",
			ImageCaption:   "Uploaded Scan",
			ActionLabel:    "Analyze Scan",
			SpinnerText:    "Analyzing...",
			SuccessBanner:  "Analysis Complete",
			ProcessError:   "Could not process image.",
			LoadFailBanner: "Model Loading Failed!",
		},
		MetricLabel:  "Predicted Age",
		ValueFormat:  "%.1f Years",
		ModelFile:    "age_model.onnx",
		TrainingHint: "your training script",
	}
}

// Cardio returns the CIMT cardiovascular risk variant.
func Cardio() Variant {
	return Variant{
		Name: NameCardio,
		Texts: Texts{
			Icon:           "❤️",
			Title:          "Cardiovascular Risk AI",
			Description:    "Analyzes retinal vessels to predict Carotid Intima-Media Thickness (CIMT).",
			UploadLabel:    "Upload Retinal Scan...",
			ImageCaption:   "Patient Scan",
			ActionLabel:    "Assess Risk",
			SpinnerText:    "Analyzing vessel density and tortuosity...",
			ProcessError:   "Image error.",
			LoadFailBanner: "Model Loading Failed!",
		},
		MetricLabel:  "Predicted Artery Thickness (CIMT)",
		ValueFormat:  "%.3f mm",
		ModelFile:    "heart_model.onnx",
		TrainingHint: "'train_heart_model.py'",
		classify:     ClassifyCIMT,
	}
}

// ByName resolves a variant by its configuration name.
func ByName(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameAge:
		return Age(), nil
	case NameCardio:
		return Cardio(), nil
	default:
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
}

// HasRisk reports whether the variant classifies its predictions.
func (v Variant) HasRisk() bool { return v.classify != nil }

// Format renders a prediction with the variant's precision and unit.
func (v Variant) Format(value float64) string {
	return fmt.Sprintf(v.ValueFormat, value)
}

// Interpret builds the displayed result for a prediction.
func (v Variant) Interpret(value float64) Result {
	r := Result{
		MetricLabel: v.MetricLabel,
		Value:       value,
		Formatted:   v.Format(value),
	}
	if v.classify != nil {
		r.Risk = v.classify(value)
	}
	return r
}

// MissingModelMessage is shown when the model file does not exist.
func (v Variant) MissingModelMessage(path string) string {
	return fmt.Sprintf("File '%s' not found. Please run %s first.", path, v.TrainingHint)
}

// ClassifyCIMT applies RiskThreshold to a CIMT value in millimetres.
func ClassifyCIMT(cimt float64) *Risk {
	if cimt >= RiskThreshold {
		return &Risk{
			Level:  LevelHigh,
			Banner: "HIGH RISK DETECTED",
			Interpretation: "The AI detected thickening of the arterial walls (>0.9mm). " +
				"This is a strong biomarker for atherosclerosis, hypertension, and potential heart attack risk.",
			High: true,
		}
	}
	return &Risk{
		Level:          LevelLow,
		Banner:         LevelLow,
		Interpretation: "Arterial thickness is within the normal range (<0.9mm).",
	}
}
