package pipeline

// PayloadKind routes every stage job to the pipeline dispatcher.
const PayloadKind = "pipeline.stage"

// StagePayload is the tagged union carried by every stage job. Stage is
// the discriminator; the option bags are set only for the stages that
// consume them. Both the orchestrator (building payloads) and the
// dispatcher (routing them) match on Stage exhaustively.
type StagePayload struct {
	Stage   StageName        `json:"stage"`
	AssetID string           `json:"asset_id"`
	Source  SourceDescriptor `json:"source"`

	FormatConversion *FormatConversionOptions `json:"format_conversion,omitempty"`
	Watermark        *WatermarkOptions        `json:"watermark,omitempty"`
}
