package lineset

import (
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Report describes a completed shuffle.
type Report struct {
	// ID uniquely identifies the shuffle run.
	ID string `json:"id"`

	// Source is the file that was shuffled.
	Source string `json:"source"`

	// Output is the shuffled file the stream now points at.
	Output string `json:"output"`

	// ScratchDir holds (or held) the shard files.
	ScratchDir string `json:"scratch_dir"`

	// Shards is the number of shards records were partitioned into.
	Shards int `json:"shards"`

	// Spill names the compressor applied to shard files.
	Spill string `json:"spill"`

	// ShardRecords is the number of records assigned to each shard, by index.
	ShardRecords []int64 `json:"shard_records"`

	// InputFingerprint digests the records read from Source.
	InputFingerprint Fingerprint `json:"input_fingerprint"`

	// OutputFingerprint digests the records written to the shuffled shards.
	OutputFingerprint Fingerprint `json:"output_fingerprint"`

	// SourceDeleteError is set when the source could not be removed after the
	// stream adopted Output. The shuffle itself succeeded.
	SourceDeleteError string `json:"source_delete_error,omitempty"`

	// StartedAt records when the shuffle began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall time of the whole operation.
	Duration time.Duration `json:"duration"`
}

// Verified reports whether the shuffled shards hold exactly the input records.
func (r *Report) Verified() bool {
	return r.InputFingerprint == r.OutputFingerprint
}

// LargestShard returns the record count of the fullest shard, which bounds
// the memory high-water mark of the intra-shard phase.
func (r *Report) LargestShard() int64 {
	var largest int64
	for _, n := range r.ShardRecords {
		largest = max(largest, n)
	}
	return largest
}

// WriteJSON encodes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := jsonCodec.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ReadReport decodes a report written by WriteJSON.
func ReadReport(r io.Reader) (*Report, error) {
	var report Report
	if err := jsonCodec.NewDecoder(r).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}
