package ocr

import "context"

// Fragment is a single recognized text region with its recognition score.
type Fragment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer turns raw image bytes into recognized text fragments.
// The engine itself (model loading, inference) lives outside this process;
// implementations here are thin clients.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) ([]Fragment, error)
}
