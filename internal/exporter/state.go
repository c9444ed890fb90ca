package exporter

// State is a step of an export run.
type State string

const (
	StateIdle                 State = "idle"
	StateValidatingVault      State = "validating_vault"
	StateTriggeringExport     State = "triggering_export"
	StateAwaitingFormatDialog State = "awaiting_format_dialog"
	StateAwaitingDownload     State = "awaiting_download"
	StateFetchingContent      State = "fetching_content"
	StateValidatingContent    State = "validating_content"
	StateCollectingAssets     State = "collecting_assets"
	StateTransformingContent  State = "transforming_content"
	StatePersistingMarkdown   State = "persisting_markdown"
	StatePersistingAssets     State = "persisting_assets"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

func (s State) String() string {
	return string(s)
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
