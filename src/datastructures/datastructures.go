package datastructures

type PredictionResult struct {
	Component  string  `json:"component"`
	Confidence float32 `json:"confidence"`
}

type ErrorResult struct {
	Error    string `json:"error"`
	Details  string `json:"details,omitempty"`
	Fallback string `json:"fallback,omitempty"`
	Stack    string `json:"stack,omitempty"`
}

type HealthResult struct {
	Status      string  `json:"status"`
	ModelLoaded bool    `json:"modelLoaded"`
	Timestamp   string  `json:"timestamp"`
	Environment string  `json:"environment"`
	Uptime      float64 `json:"uptime"`
	MemoryRSS   uint64  `json:"memoryRSS,omitempty"`
}

type PhoneCameraResult struct {
	PhoneUrl     string   `json:"phoneUrl"`
	QrCode       string   `json:"qrCode"`
	Instructions []string `json:"instructions"`
}

// ModelMetadata mirrors the optional metadata.json shipped next to the model.
type ModelMetadata struct {
	Format     string   `json:"format" validate:"omitempty,oneof=tensorflow onnx"`
	Classes    []string `json:"classes" validate:"omitempty,dive,required"`
	ImageSize  int      `json:"imageSize" validate:"omitempty,min=1,max=4096"`
	InputName  string   `json:"inputName"`
	OutputName string   `json:"outputName"`
	Layout     string   `json:"layout" validate:"omitempty,oneof=nhwc nchw"`
}

const (
	RelayMessageFrame             = "frame"
	RelayMessagePhoneFrame        = "phone-frame"
	RelayMessagePhoneDisconnected = "phone-disconnected"
)

// RelayMessage is the JSON envelope exchanged over the phone relay channel.
// Data carries the encoded image (usually a data URI) and is never inspected
// by the relay.
type RelayMessage struct {
	Type string `json:"type"`
	Id   int64  `json:"id,omitempty"`
	Data string `json:"data,omitempty"`
}

type ExplanationSource string

const (
	ExplanationGenerated ExplanationSource = "generated"
	ExplanationFallback  ExplanationSource = "fallback"
)

// Explanation is either generated text or the static fallback, never both.
type Explanation struct {
	Text   string            `json:"text"`
	Source ExplanationSource `json:"source"`
}

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// ScanOutcome is what a single capture/classify/explain pass hands to the
// presentation layer. Err is set when capture or classification failed, in
// which case there's no label and no explanation.
type ScanOutcome struct {
	ScanId      uint64      `json:"scanId"`
	Source      string      `json:"source"`
	Label       string      `json:"label,omitempty"`
	Confidence  float32     `json:"confidence"`
	Level       string      `json:"level,omitempty"`
	Unknown     bool        `json:"unknown"`
	Explanation Explanation `json:"explanation"`
	Err         error       `json:"-"`
}
