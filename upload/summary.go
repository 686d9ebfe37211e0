package upload

import "math"

// Summary is a derived, read-only view over the current records. It is
// recomputed from the store on every call, never stored.
type Summary struct {
	Queued    int
	Uploading int
	Complete  int
	Failed    int

	// IsUploading is true while any record is actively transferring.
	IsUploading bool

	// OverallProgress averages Progress over uploading and complete records;
	// queued and error records are excluded. 0 when there is nothing to average.
	OverallProgress int

	// TotalBytes sums the sizes of all records. UploadedBytes counts complete
	// records in full and uploading records proportionally to their progress.
	TotalBytes    int64
	UploadedBytes int64
}

func summarize(records []*Record) Summary {
	var s Summary
	progressSum := 0
	progressCount := 0

	for _, rec := range records {
		s.TotalBytes += rec.Size

		switch rec.Status {
		case StatusQueued:
			s.Queued++
		case StatusUploading:
			s.Uploading++
			progressSum += rec.Progress
			progressCount++
			s.UploadedBytes += rec.Size * int64(rec.Progress) / 100
		case StatusComplete:
			s.Complete++
			progressSum += rec.Progress
			progressCount++
			s.UploadedBytes += rec.Size
		case StatusError:
			s.Failed++
		}
	}

	s.IsUploading = s.Uploading > 0
	if progressCount > 0 {
		s.OverallProgress = int(math.Round(float64(progressSum) / float64(progressCount)))
	}
	return s
}

// progressPercent converts a byte count into an integer percentage of total.
// A zero-size file counts as fully sent.
func progressPercent(sent, total int64) int {
	if total <= 0 {
		return 100
	}
	p := int(math.Round(float64(sent) / float64(total) * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
