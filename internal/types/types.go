// Package types holds the data shared between the capture, submission and
// server layers.
package types

import "time"

// Sample is one accepted enrollment image with its capture metadata.
type Sample struct {
	Image               []byte    `json:"-"`
	QualityScore        float64   `json:"qualityScore"`
	DetectionConfidence float64   `json:"detectionConfidence"`
	Timestamp           time.Time `json:"timestamp"`
}

// Outcome is the result of a successful registration or update.
type Outcome struct {
	Message    string      `json:"message"`
	Embeddings [][]float64 `json:"embeddings,omitempty"`
	FaceImages []string    `json:"faceImages,omitempty"`
	// Warnings are per-image problems the service tolerated.
	Warnings []string `json:"errors,omitempty"`
}

// FaceStatus is the registration state of the current user.
type FaceStatus struct {
	IsRegistered   bool       `json:"isRegistered"`
	RegisteredAt   *time.Time `json:"registeredAt"`
	LastVerifiedAt *time.Time `json:"lastVerifiedAt"`
	EmbeddingCount int        `json:"embeddingCount"`
}
