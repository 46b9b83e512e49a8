package pricing

import (
	"time"

	"github.com/WessleyAI/wessley-valuation/engine/artifact"
)

// NATS subjects of the pricing service.
const (
	SubjectEstimate           = "pricing.estimate"
	SubjectArtifactsReload    = "pricing.artifacts.reload"
	SubjectArtifactsInstalled = "pricing.artifacts.installed"
)

// Advisory is attached to responses whose estimate was clamped at zero.
const Advisory = "The model valued this car below zero; treat it as having negligible resale value."

// Response is the wire form of an estimate.
type Response struct {
	ID         string  `json:"id"`
	Price      float64 `json:"price"`
	Raw        float64 `json:"raw"`
	WasClamped bool    `json:"was_clamped"`
	Generation string  `json:"generation"`
	Advisory   string  `json:"advisory,omitempty"`
}

// NewResponse builds the wire form of tr.
func NewResponse(tr Trace) Response {
	resp := Response{
		ID:         tr.ID,
		Price:      tr.Estimate.Price,
		Raw:        tr.Estimate.Raw,
		WasClamped: tr.Estimate.WasClamped,
		Generation: tr.Generation,
	}
	if resp.WasClamped {
		resp.Advisory = Advisory
	}
	return resp
}

// Inspection is the wire form of a full pipeline run.
type Inspection struct {
	Response
	Sparse   Sparse    `json:"sparse"`
	Features []string  `json:"features"`
	Aligned  []float64 `json:"aligned"`
	Scaled   []float64 `json:"scaled"`
}

// NewInspection builds the wire form of tr with its intermediate vectors.
func NewInspection(tr Trace) Inspection {
	return Inspection{
		Response: NewResponse(tr),
		Sparse:   tr.Sparse,
		Features: tr.Aligned.Names(),
		Aligned:  tr.Aligned.Values,
		Scaled:   tr.Scaled.Values,
	}
}

// ArtifactInfo describes an installed artifact generation.
type ArtifactInfo struct {
	Generation string                           `json:"generation"`
	Files      map[string]artifact.FileIdentity `json:"files"`
	Features   []string                         `json:"features"`
	Warnings   []artifact.SchemaLoadWarning     `json:"warnings"`
	LoadedAt   time.Time                        `json:"loaded_at"`
}

// NewArtifactInfo describes b.
func NewArtifactInfo(b *artifact.Bundle) ArtifactInfo {
	return ArtifactInfo{
		Generation: b.Generation.ID,
		Files:      b.Generation.Files,
		Features:   b.Schema.Names(),
		Warnings:   b.Warnings,
		LoadedAt:   b.LoadedAt,
	}
}

// ReloadRequest asks a service to re-read its artifacts.
type ReloadRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ReloadResult reports the outcome of a reload. Error is set when the
// reload failed and the previous generation stayed installed.
type ReloadResult struct {
	Generation string `json:"generation"`
	Previous   string `json:"previous,omitempty"`
	Error      string `json:"error,omitempty"`
}
