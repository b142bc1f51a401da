package models

// ImageInput is the trigger payload handed to the image analyzer orchestration.
type ImageInput struct {
	BlobName   string  `json:"blobName"   validate:"required"`
	BlobBytes  []byte  `json:"blobBytes"  validate:"required"`
	BlobSizeKB float64 `json:"blobSizeKB" validate:"gte=0"`
}

type RGB struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

type DominantColor struct {
	Hex        string  `json:"hex"`
	RGB        RGB     `json:"rgb"`
	Percentage float64 `json:"percentage"`
}

type ColorAnalysis struct {
	DominantColors     []DominantColor `json:"dominantColors"`
	IsGrayscale        bool            `json:"isGrayscale"`
	TotalPixelsSampled int             `json:"totalPixelsSampled"`
	Error              string          `json:"error,omitempty"`
}

type DetectedObject struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type ObjectAnalysis struct {
	Objects     []DetectedObject `json:"objects"`
	ObjectCount int              `json:"objectCount"`
	Note        string           `json:"note,omitempty"`
	Error       string           `json:"error,omitempty"`
}

type TextAnalysis struct {
	HasText       bool    `json:"hasText"`
	ExtractedText string  `json:"extractedText"`
	Confidence    float64 `json:"confidence"`
	Language      string  `json:"language,omitempty"`
	Note          string  `json:"note,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type MetadataAnalysis struct {
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Format      string            `json:"format"`
	Mode        string            `json:"mode,omitempty"`
	TotalPixels int               `json:"totalPixels,omitempty"`
	Megapixels  float64           `json:"megapixels,omitempty"`
	SizeKB      float64           `json:"sizeKB,omitempty"`
	AspectRatio string            `json:"aspectRatio,omitempty"`
	HasExifData bool              `json:"hasExifData"`
	ExifData    map[string]string `json:"exifData,omitempty"`
	Error       string            `json:"error,omitempty"`
}
