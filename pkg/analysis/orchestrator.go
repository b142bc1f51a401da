package analysis

import (
	"errors"

	"github.com/dukex/imageflow/pkg/models"
	"github.com/dukex/imageflow/pkg/orchestration"
)

// ImageAnalyzer fans out the four analyses, waits for all of them, then chains
// report generation and storage. A failed analysis task becomes an analysis
// result carrying its error; a failed report or storage task fails the instance.
func ImageAnalyzer(ctx *orchestration.Context) (any, error) {
	var input models.ImageInput

	err := ctx.GetInput(&input)
	if err != nil {
		return nil, err
	}

	colors := ctx.CallActivity(ActivityAnalyzeColors, input)
	objects := ctx.CallActivity(ActivityAnalyzeObjects, input)
	text := ctx.CallActivity(ActivityAnalyzeText, input)
	metadata := ctx.CallActivity(ActivityAnalyzeMetadata, input)

	err = ctx.WhenAll(colors, objects, text, metadata)
	if err != nil {
		return nil, err
	}

	reportInput := models.ReportInput{BlobName: input.BlobName}

	reportInput.Colors, err = awaitAnalysis(colors, degradedColors)
	if err != nil {
		return nil, err
	}

	reportInput.Objects, err = awaitAnalysis(objects, degradedObjects)
	if err != nil {
		return nil, err
	}

	reportInput.Text, err = awaitAnalysis(text, degradedText)
	if err != nil {
		return nil, err
	}

	reportInput.Metadata, err = awaitAnalysis(metadata, degradedMetadata)
	if err != nil {
		return nil, err
	}

	var report models.Report

	err = ctx.CallActivity(ActivityGenerateReport, reportInput).Await(&report)
	if err != nil {
		return nil, err
	}

	var record models.StoredRecord

	err = ctx.CallActivity(ActivityStoreResults, report).Await(&record)
	if err != nil {
		return nil, err
	}

	return record, nil
}

func awaitAnalysis[T any](task *orchestration.Task, degrade func(error) T) (*T, error) {
	var result T

	err := task.Await(&result)

	var failed *orchestration.ActivityFailedError
	if errors.As(err, &failed) {
		degraded := degrade(errors.New(failed.Message))

		return &degraded, nil
	}

	if err != nil {
		return nil, err
	}

	return &result, nil
}
