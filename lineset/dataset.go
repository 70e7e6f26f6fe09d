package lineset

import "context"

// datasetConfig holds the resolved configuration for a dataset.
type datasetConfig struct {
	streamOpts  []StreamOption
	shuffle     bool
	shuffleOpts []ShuffleOption
}

// DatasetOption configures OpenDataset.
type DatasetOption func(*datasetConfig)

// WithStreamOptions passes options through to the underlying Open call.
func WithStreamOptions(opts ...StreamOption) DatasetOption {
	return func(cfg *datasetConfig) {
		cfg.streamOpts = append(cfg.streamOpts, opts...)
	}
}

// WithShuffle shuffles the source file when the dataset is opened.
func WithShuffle(opts ...ShuffleOption) DatasetOption {
	return func(cfg *datasetConfig) {
		cfg.shuffle = true
		cfg.shuffleOpts = append(cfg.shuffleOpts, opts...)
	}
}

// Dataset adapts a Stream to frameworks that expect a length and indexed
// item access.
//
// The length is known up front, but items are sequential only: Item ignores
// its index and returns the next unread record. Shuffle the file on disk to
// randomize order instead of sampling indices.
type Dataset struct {
	stream *Stream
	report *Report
}

// OpenDataset opens the file at path as a dataset, shuffling it first when
// WithShuffle is given.
func OpenDataset(ctx context.Context, path string, opts ...DatasetOption) (*Dataset, error) {
	cfg := &datasetConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	s, err := Open(path, cfg.streamOpts...)
	if err != nil {
		return nil, err
	}

	d := &Dataset{stream: s}
	if cfg.shuffle {
		report, err := Shuffle(ctx, s, cfg.shuffleOpts...)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		d.report = report
	}
	return d, nil
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return int(d.stream.Count())
}

// Item returns the next unread record. The index is ignored.
// Returns ErrEndOfStream once every record has been read; call Reset to
// start over.
func (d *Dataset) Item(_ int) (string, error) {
	record, ok, err := d.stream.Next()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrEndOfStream
	}
	return record, nil
}

// Reset rewinds the dataset to its first record.
func (d *Dataset) Reset() error {
	return d.stream.Reset()
}

// Stream returns the underlying stream.
func (d *Dataset) Stream() *Stream {
	return d.stream
}

// ShuffleReport returns the report of the shuffle performed at open time,
// or nil if the dataset was not shuffled.
func (d *Dataset) ShuffleReport() *Report {
	return d.report
}

// Close releases the underlying stream.
func (d *Dataset) Close() error {
	return d.stream.Close()
}
