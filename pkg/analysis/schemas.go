package analysis

const colorSchema = `{
	"type": "object",
	"required": ["dominantColors", "isGrayscale", "totalPixelsSampled"],
	"properties": {
		"dominantColors": {
			"type": "array",
			"maxItems": 5,
			"items": {
				"type": "object",
				"required": ["hex", "rgb", "percentage"],
				"properties": {
					"hex": {"type": "string", "pattern": "^#[0-9a-f]{6}$"},
					"percentage": {"type": "number", "minimum": 0, "maximum": 100}
				}
			}
		},
		"isGrayscale": {"type": "boolean"},
		"totalPixelsSampled": {"type": "integer", "minimum": 0}
	}
}`

const objectSchema = `{
	"type": "object",
	"required": ["objects", "objectCount"],
	"properties": {
		"objects": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "confidence"],
				"properties": {
					"name": {"type": "string"},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1}
				}
			}
		},
		"objectCount": {"type": "integer", "minimum": 0}
	}
}`

const textSchema = `{
	"type": "object",
	"required": ["hasText", "extractedText", "confidence"],
	"properties": {
		"hasText": {"type": "boolean"},
		"extractedText": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

const metadataSchema = `{
	"type": "object",
	"required": ["width", "height", "format", "hasExifData"],
	"properties": {
		"width": {"type": "integer", "minimum": 0},
		"height": {"type": "integer", "minimum": 0},
		"format": {"type": "string", "minLength": 1},
		"exifData": {"type": "object", "additionalProperties": {"type": "string"}}
	}
}`

const reportSchema = `{
	"type": "object",
	"required": ["id", "fileName", "blobPath", "analyzedAt", "analyses", "summary"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"analyses": {
			"type": "object",
			"required": ["colors", "objects", "text", "metadata"]
		},
		"summary": {
			"type": "object",
			"required": ["imageSize", "format", "dominantColor", "objectsDetected", "hasText", "isGrayscale"]
		}
	}
}`

const storedSchema = `{
	"type": "object",
	"required": ["id", "fileName", "status", "analyzedAt", "summary"],
	"properties": {
		"status": {"const": "stored"}
	}
}`
