package pipeline_test

import (
	"errors"
	"testing"

	"photopipe/internal/pipeline"
	"photopipe/internal/services"
)

func TestCatalogEntries(t *testing.T) {
	cases := []struct {
		idx    pipeline.StepIndex
		name   string
		input  string
		output string
		kind   pipeline.JobKind
		unit   pipeline.Unit
	}{
		{pipeline.StepNotStarted, "Not Started", "", pipeline.CacheFolder, pipeline.JobInitTask, pipeline.UnitWholeStep},
		{pipeline.StepRawToIntermediate, "Raw To Intermediate", pipeline.RawFolder, pipeline.IntermediateFolder, pipeline.JobRawConversion, pipeline.UnitPerImage},
		{pipeline.StepColorCorrection, "Color Correction", pipeline.IntermediateFolder, pipeline.ColorFolder, pipeline.JobColorCorrection, pipeline.UnitWholeStep},
		{pipeline.StepAlignmentPrep, "Alignment Prep", pipeline.ColorFolder, pipeline.AlignmentFolder, pipeline.JobAlignmentPrep, pipeline.UnitWholeStep},
		{pipeline.StepMeshConstruction, "Mesh Construction", pipeline.AlignmentFolder, pipeline.MeshFolder, pipeline.JobMeshConstruction, pipeline.UnitWholeStep},
		{pipeline.StepCompleted, "Completed", pipeline.MeshFolder, "", "", pipeline.UnitNone},
	}
	for _, tc := range cases {
		meta, err := pipeline.MetadataFor(tc.idx)
		if err != nil {
			t.Fatalf("MetadataFor(%d): %v", tc.idx, err)
		}
		if meta.Name != tc.name || meta.InputFolder != tc.input || meta.OutputFolder != tc.output || meta.JobKind != tc.kind || meta.Unit != tc.unit {
			t.Fatalf("unexpected metadata for %d: %+v", tc.idx, meta)
		}
		if tc.idx.String() != tc.name {
			t.Fatalf("String() = %q, want %q", tc.idx.String(), tc.name)
		}
	}
}

func TestMetadataForUnknownStep(t *testing.T) {
	for _, raw := range []int{-1, 6, 42} {
		_, err := pipeline.MetadataFor(pipeline.StepIndex(raw))
		if !errors.Is(err, pipeline.ErrUnknownStep) {
			t.Fatalf("expected ErrUnknownStep for %d, got %v", raw, err)
		}
		if !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("expected configuration classification for %d", raw)
		}
		if _, err := pipeline.ParseStepIndex(raw); err == nil {
			t.Fatalf("expected parse failure for %d", raw)
		}
	}
}

func TestNextIsMonotonicAndClamped(t *testing.T) {
	for _, idx := range pipeline.Steps[:len(pipeline.Steps)-1] {
		if idx.Next() != idx+1 {
			t.Fatalf("Next(%d) = %d", idx, idx.Next())
		}
	}
	if pipeline.StepCompleted.Next() != pipeline.StepCompleted {
		t.Fatal("Completed must clamp")
	}
}

func TestStepForJobKind(t *testing.T) {
	idx, ok := pipeline.StepForJobKind(pipeline.JobColorCorrection)
	if !ok || idx != pipeline.StepColorCorrection {
		t.Fatalf("unexpected mapping: %d %v", idx, ok)
	}
	if _, ok := pipeline.StepForJobKind("bogus"); ok {
		t.Fatal("expected unknown kind to fail")
	}
}
