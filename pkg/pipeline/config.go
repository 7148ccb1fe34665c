package pipeline

// ProcessingConfig enumerates which stages run for an asset and carries
// the per-stage option bags. The zero value disables everything; use
// DefaultProcessingConfig for the standard set.
type ProcessingConfig struct {
	EnableContentScan       bool `json:"enable_content_scan"`
	EnableThumbnail         bool `json:"enable_thumbnail"`
	EnableMetadata          bool `json:"enable_metadata"`
	EnableQualityValidation bool `json:"enable_quality_validation"`
	EnablePreview           bool `json:"enable_preview"`
	EnableFormatConversion  bool `json:"enable_format_conversion"`
	EnableWatermarking      bool `json:"enable_watermarking"`

	FormatConversion FormatConversionOptions `json:"format_conversion"`
	Watermark        WatermarkOptions        `json:"watermark"`
}

// FormatConversionOptions selects which derivatives the format-conversion
// stage produces.
type FormatConversionOptions struct {
	GenerateWebP              bool `json:"generate_webp"`
	GenerateAVIF              bool `json:"generate_avif"`
	GenerateResponsiveSizes   bool `json:"generate_responsive_sizes"`
	GenerateMultipleQualities bool `json:"generate_multiple_qualities"`
}

// WatermarkType selects the watermarking technique.
type WatermarkType string

const (
	WatermarkText      WatermarkType = "text"
	WatermarkLogo      WatermarkType = "logo"
	WatermarkBoth      WatermarkType = "both"
	WatermarkInvisible WatermarkType = "invisible"
)

// WatermarkOptions configures the watermarking stage.
type WatermarkOptions struct {
	Type         WatermarkType `json:"type"`
	Text         string        `json:"text,omitempty"`
	LogoLocation string        `json:"logo_location,omitempty"`
	Position     string        `json:"position,omitempty"`
	Opacity      float64       `json:"opacity,omitempty"`
	Forensic     bool          `json:"forensic,omitempty"`
}

// DefaultProcessingConfig enables thumbnail, metadata, and quality
// validation. Preview, format conversion, watermarking, and the content
// scan are opt-in.
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		EnableThumbnail:         true,
		EnableMetadata:          true,
		EnableQualityValidation: true,
	}
}

// Enabled reports whether the named stage is switched on in this config.
func (c ProcessingConfig) Enabled(stage StageName) bool {
	switch stage {
	case StageContentScan:
		return c.EnableContentScan
	case StageThumbnail:
		return c.EnableThumbnail
	case StageMetadata:
		return c.EnableMetadata
	case StageQualityValidation:
		return c.EnableQualityValidation
	case StagePreview:
		return c.EnablePreview
	case StageFormatConversion:
		return c.EnableFormatConversion
	case StageWatermarking:
		return c.EnableWatermarking
	default:
		return false
	}
}
