package model

// GenerationRequest is what the dispatcher forwards to an image-generation provider.
type GenerationRequest struct {
	RequestID    string `json:"request_id"` // ULID
	LicenseID    string `json:"license_id"`
	Prompt       string `json:"prompt"`
	ProductCount int    `json:"product_count"`
	ImageJPEG    []byte `json:"image_jpeg"` // base64 in JSON
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// GenerationResult is a provider's answer.
type GenerationResult struct {
	Provider string   `json:"provider"`
	Images   []string `json:"images"` // URLs or data URIs, provider-defined
}
