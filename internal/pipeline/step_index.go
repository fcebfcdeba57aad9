package pipeline

import (
	"fmt"
	"strconv"
)

// StepIndex is the ordinal position of a task in the pipeline.
type StepIndex int

const (
	StepNotStarted StepIndex = iota
	StepRawToIntermediate
	StepColorCorrection
	StepAlignmentPrep
	StepMeshConstruction
	StepCompleted
)

// Steps lists every step in pipeline order.
var Steps = []StepIndex{
	StepNotStarted,
	StepRawToIntermediate,
	StepColorCorrection,
	StepAlignmentPrep,
	StepMeshConstruction,
	StepCompleted,
}

// Valid reports whether the index names a catalog entry.
func (s StepIndex) Valid() bool {
	return s >= StepNotStarted && s <= StepCompleted
}

// Next returns the following step, clamped at StepCompleted.
func (s StepIndex) Next() StepIndex {
	if s >= StepCompleted {
		return StepCompleted
	}
	if s < StepNotStarted {
		return StepNotStarted
	}
	return s + 1
}

// String returns the catalog name of the step.
func (s StepIndex) String() string {
	meta, err := MetadataFor(s)
	if err != nil {
		return "Step(" + strconv.Itoa(int(s)) + ")"
	}
	return meta.Name
}

// ParseStepIndex converts a raw persisted value into a StepIndex.
func ParseStepIndex(value int) (StepIndex, error) {
	idx := StepIndex(value)
	if !idx.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownStep, value)
	}
	return idx, nil
}
