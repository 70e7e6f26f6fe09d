package lineset

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_JSONRoundTrip(t *testing.T) {
	report := &Report{
		ID:                "3d0c9e4b-58f1-4f6a-9f0e-3f1a7e2c6b10",
		Source:            "data/seqs.txt",
		Output:            "data/seqs_shuffled.txt",
		ScratchDir:        "shard_tmp",
		Shards:            3,
		Spill:             "zstd",
		ShardRecords:      []int64{4, 0, 6},
		InputFingerprint:  Fingerprint{Records: 10, Sum: 1<<63 + 5},
		OutputFingerprint: Fingerprint{Records: 10, Sum: 1<<63 + 5},
		StartedAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:          1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"scratch_dir": "shard_tmp"`)
	assert.Contains(t, buf.String(), `"shard_records": [`)

	got, err := ReadReport(&buf)
	require.NoError(t, err)
	assert.Equal(t, report, got)
}

func TestReport_Verified(t *testing.T) {
	report := &Report{
		InputFingerprint:  Fingerprint{Records: 2, Sum: 9},
		OutputFingerprint: Fingerprint{Records: 2, Sum: 9},
	}
	assert.True(t, report.Verified())

	report.OutputFingerprint.Sum++
	assert.False(t, report.Verified())
}

func TestReport_LargestShard(t *testing.T) {
	assert.Zero(t, (&Report{}).LargestShard())
	assert.Equal(t, int64(9), (&Report{ShardRecords: []int64{3, 9, 0, 4}}).LargestShard())
}

func TestReadReport_Invalid(t *testing.T) {
	_, err := ReadReport(bytes.NewBufferString("{not json"))
	assert.Error(t, err)
}
