// Package protocol names the channels and topics of the editor/engine
// contract and defines their payloads.
package protocol

import (
	"time"

	"github.com/petal-labs/storyline/model"
	"github.com/petal-labs/storyline/runtime"
)

// Channels.
const (
	ChannelEditor        = "editor"
	ChannelEngine        = "engine"
	ChannelEngineRequest = "engine-request"
)

// Topics on ChannelEngineRequest (editor to engine).
const (
	TopicSpecDataRequested = "spec-data-requested"
	TopicSaveSpecBody      = "save-spec-body"
	TopicRunSpec           = "run-spec"
)

// Topics on ChannelEditor.
const (
	TopicSpecDataAvailable = "spec-data-available"
	TopicSpecChanged       = "spec-changed"
	TopicSelectCell        = "select-cell"
	TopicChanges           = "changes"
	TopicSpecEdited        = "spec-edited"
)

// Topics on ChannelEngine (engine to editor).
const (
	TopicSpecBodySaved = "spec-body-saved"
	TopicSpecResults   = "spec-results"
)

// SpecRef identifies a specification. It is the payload of
// spec-data-requested, spec-data-available and spec-changed.
type SpecRef struct {
	ID string `json:"id"`
}

// SpecBody carries a written specification. It is the payload of
// save-spec-body and run-spec.
type SpecBody struct {
	ID       string         `json:"id"`
	Spec     model.SpecData `json:"spec"`
	Revision string         `json:"revision"`
}

// SpecBodySaved reports a completed save.
type SpecBodySaved struct {
	ID       string    `json:"id"`
	Revision string    `json:"revision"`
	Time     time.Time `json:"time"`
}

// RunResults reports a finished run.
type RunResults struct {
	ID       string          `json:"id"`
	Revision string          `json:"revision,omitempty"`
	Report   *runtime.Report `json:"report"`
}

// Addressed scopes a changes or select-cell payload to one specification.
// Step ids are only unique inside a specification, so a bare payload
// reaches every editor holding a step with that id; publishers that know
// the target should wrap it.
type Addressed struct {
	Spec    string `json:"spec"`
	Payload any    `json:"payload"`
}

// CellRef is the payload of select-cell.
type CellRef = model.CellRef

// SpecEdited is the payload of spec-edited.
type SpecEdited struct {
	ID     string       `json:"id"`
	Change model.Change `json:"change"`
}
