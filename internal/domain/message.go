package domain

import (
	"context"
	"fmt"
	"time"
)

// RawMessage is an undecoded swath message from the source topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutputMessage is a serialized record destined for the sink topic.
type OutputMessage struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Header keys set on messages.
const (
	HeaderContentType = "content_type"
	HeaderRecordType  = "record_type"
	HeaderRegion      = "region"
	HeaderProcessedAt = "processed_at"
)

// Record types carried in HeaderRecordType.
const (
	RecordSwath        = "swath"
	RecordAccumulators = "accumulators"
)

// SwathRecord is the wire form of a swath as published by the GPROF file
// reader. The three quality flag arrays are optional; when present they are
// folded into the footprint mask with QualityMask.
type SwathRecord struct {
	ID          string    `json:"id"`
	Precip      []float64 `json:"precip"`
	SurfaceType []int     `json:"surface_type"`
	Lat         []float64 `json:"lat"`
	Lon         []float64 `json:"lon"`
	Year        []int     `json:"year"`
	Month       []int     `json:"month"`
	Day         []int     `json:"day"`
	Hour        []int     `json:"hour"`
	Minute      []int     `json:"minute"`

	QualityFlag    []int  `json:"quality_flag,omitempty"`
	L1CQualityFlag []int  `json:"l1c_quality_flag,omitempty"`
	PixelStatus    []int  `json:"pixel_status,omitempty"`
	Masked         []bool `json:"masked,omitempty"`
}

// ParseSwathRecord decodes a raw message into a validated Swath. The payload
// format comes from the content type header and defaults to JSON.
func ParseSwathRecord(raw RawMessage) (Swath, error) {
	format := FormatFromContentType(raw.Headers[HeaderContentType])

	var rec SwathRecord
	if err := Decode(format, raw.Value, &rec); err != nil {
		return Swath{}, fmt.Errorf("parse swath record: %w", err)
	}

	s, err := rec.Swath()
	if err != nil {
		return Swath{}, fmt.Errorf("parse swath record %q: %w", rec.ID, err)
	}
	if s.ID == "" {
		s.ID = string(raw.Key)
	}
	return s, nil
}

// Swath converts the record, applying the quality flags when present.
func (r SwathRecord) Swath() (Swath, error) {
	s := Swath{
		ID:          r.ID,
		Precip:      r.Precip,
		SurfaceType: r.SurfaceType,
		Masked:      r.Masked,
		Lat:         r.Lat,
		Lon:         r.Lon,
		Year:        r.Year,
		Month:       r.Month,
		Day:         r.Day,
		Hour:        r.Hour,
		Minute:      r.Minute,
	}

	if r.QualityFlag != nil || r.L1CQualityFlag != nil || r.PixelStatus != nil {
		mask, err := QualityMask(r.QualityFlag, r.L1CQualityFlag, r.PixelStatus)
		if err != nil {
			return Swath{}, err
		}
		if s.Masked != nil {
			if len(s.Masked) != len(mask) {
				return Swath{}, fmt.Errorf("%w: masked has %d values, quality flags have %d",
					ErrShapeMismatch, len(s.Masked), len(mask))
			}
			for k := range mask {
				mask[k] = mask[k] || s.Masked[k]
			}
		}
		s.Masked = mask
	}

	if err := s.Validate(); err != nil {
		return Swath{}, err
	}
	return s, nil
}
