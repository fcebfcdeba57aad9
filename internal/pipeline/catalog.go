package pipeline

import (
	"fmt"

	"photopipe/internal/services"
)

// ErrUnknownStep is returned for indexes outside the catalog.
var ErrUnknownStep = fmt.Errorf("%w: unknown step index", services.ErrConfiguration)

// JobKind names the unit of work a worker executes.
type JobKind string

const (
	JobInitTask         JobKind = "init_task"
	JobRawConversion    JobKind = "raw_conversion"
	JobColorCorrection  JobKind = "color_correction"
	JobAlignmentPrep    JobKind = "alignment_prep"
	JobMeshConstruction JobKind = "mesh_construction"
)

// Unit describes how a step's work is split into jobs.
type Unit int

const (
	UnitNone Unit = iota
	UnitWholeStep
	UnitPerImage
)

func (u Unit) String() string {
	switch u {
	case UnitWholeStep:
		return "whole_step"
	case UnitPerImage:
		return "per_image"
	default:
		return "none"
	}
}

// Task folder layout.
const (
	CacheFolder         = "cache"
	RawFolder           = "1_RAW"
	IntermediateFolder  = "2_INTERMEDIATE"
	ColorFolder         = "3_COLOR_CORRECTED"
	AlignmentFolder     = "4_ALIGNMENT"
	MeshFolder          = "5_MESH"
	AlignmentMarkerName = "project.rcproj"
	MeshMarkerName      = "output.obj"
)

// StepMetadata is the immutable catalog entry for one step.
type StepMetadata struct {
	Name            string  `json:"name"`
	InputFolder     string  `json:"input_folder,omitempty"`
	InputExtension  string  `json:"input_extension,omitempty"`
	OutputFolder    string  `json:"output_folder,omitempty"`
	OutputExtension string  `json:"output_extension,omitempty"`
	Marker          string  `json:"marker,omitempty"`
	JobKind         JobKind `json:"job_kind,omitempty"`
	Unit            Unit    `json:"-"`
}

var catalog = [...]StepMetadata{
	StepNotStarted: {
		Name:         "Not Started",
		OutputFolder: CacheFolder,
		JobKind:      JobInitTask,
		Unit:         UnitWholeStep,
	},
	StepRawToIntermediate: {
		Name:            "Raw To Intermediate",
		InputFolder:     RawFolder,
		InputExtension:  "ARW",
		OutputFolder:    IntermediateFolder,
		OutputExtension: "dng",
		JobKind:         JobRawConversion,
		Unit:            UnitPerImage,
	},
	StepColorCorrection: {
		Name:            "Color Correction",
		InputFolder:     IntermediateFolder,
		InputExtension:  "dng",
		OutputFolder:    ColorFolder,
		OutputExtension: "jpg",
		JobKind:         JobColorCorrection,
		Unit:            UnitWholeStep,
	},
	StepAlignmentPrep: {
		Name:            "Alignment Prep",
		InputFolder:     ColorFolder,
		InputExtension:  "jpg",
		OutputFolder:    AlignmentFolder,
		OutputExtension: "rcproj",
		Marker:          AlignmentMarkerName,
		JobKind:         JobAlignmentPrep,
		Unit:            UnitWholeStep,
	},
	StepMeshConstruction: {
		Name:            "Mesh Construction",
		InputFolder:     AlignmentFolder,
		InputExtension:  "rcproj",
		OutputFolder:    MeshFolder,
		OutputExtension: "obj",
		Marker:          MeshMarkerName,
		JobKind:         JobMeshConstruction,
		Unit:            UnitWholeStep,
	},
	StepCompleted: {
		Name:        "Completed",
		InputFolder: MeshFolder,
	},
}

// MetadataFor returns the catalog entry for idx.
func MetadataFor(idx StepIndex) (StepMetadata, error) {
	if !idx.Valid() {
		return StepMetadata{}, fmt.Errorf("%w: %d", ErrUnknownStep, int(idx))
	}
	return catalog[idx], nil
}

// StepForJobKind returns the step whose work the job kind performs.
func StepForJobKind(kind JobKind) (StepIndex, bool) {
	for _, idx := range Steps {
		if catalog[idx].JobKind != "" && catalog[idx].JobKind == kind {
			return idx, true
		}
	}
	return 0, false
}
