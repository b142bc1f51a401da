package models

import "time"

const StoredStatus = "stored"

// ReportInput is the fan-in result handed to report generation.
type ReportInput struct {
	BlobName string            `json:"blobName" validate:"required"`
	Colors   *ColorAnalysis    `json:"colors"   validate:"required"`
	Objects  *ObjectAnalysis   `json:"objects"  validate:"required"`
	Text     *TextAnalysis     `json:"text"     validate:"required"`
	Metadata *MetadataAnalysis `json:"metadata" validate:"required"`
}

type Analyses struct {
	Colors   ColorAnalysis    `json:"colors"`
	Objects  ObjectAnalysis   `json:"objects"`
	Text     TextAnalysis     `json:"text"`
	Metadata MetadataAnalysis `json:"metadata"`
}

type Summary struct {
	ImageSize       string `json:"imageSize"`
	Format          string `json:"format"`
	DominantColor   string `json:"dominantColor"`
	ObjectsDetected int    `json:"objectsDetected"`
	HasText         bool   `json:"hasText"`
	IsGrayscale     bool   `json:"isGrayscale"`
}

// Report aggregates the four analyses of one image.
type Report struct {
	ID         string    `json:"id"         validate:"required"`
	FileName   string    `json:"fileName"   validate:"required"`
	BlobPath   string    `json:"blobPath"   validate:"required"`
	AnalyzedAt time.Time `json:"analyzedAt" validate:"required"`
	Analyses   Analyses  `json:"analyses"`
	Summary    Summary   `json:"summary"`
}

// StoredRecord is returned by the storage step of a successful orchestration.
type StoredRecord struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	Status     string    `json:"status"`
	AnalyzedAt time.Time `json:"analyzedAt"`
	Summary    Summary   `json:"summary"`
}

// ResultSummary is one row of a result listing.
type ResultSummary struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	AnalyzedAt time.Time `json:"analyzedAt"`
	Summary    Summary   `json:"summary"`
}

type ResultList struct {
	Count   int             `json:"count"`
	Results []ResultSummary `json:"results"`
}
