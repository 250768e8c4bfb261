// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldVideoID   = "video_id"
	FieldJobID     = "job_id"
	FieldViewer    = "viewer"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTrigger   = "trigger"

	// Media / stream fields
	FieldManifestURL = "manifest_url"
	FieldQuality     = "quality"
	FieldLanguage    = "language"
	FieldLevel       = "level"
	FieldPosition    = "position"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Transfer fields
	FieldURL        = "url"
	FieldBytes      = "bytes"
	FieldTotalBytes = "total_bytes"
	FieldPath       = "path"
)
