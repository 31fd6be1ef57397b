package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"healthwatch/internal/domain"
)

const maxPooledBatchCapacity = 4096

type decodeScratch struct {
	reports []domain.Report
}

var decodeScratchPool = sync.Pool{
	New: func() any {
		return &decodeScratch{reports: make([]domain.Report, 0, 16)}
	},
}

// decodeSingleReport decodes one report and rejects trailing JSON tokens.
// Params: json decoder for a single report object.
// Returns: validated report or decode error.
func decodeSingleReport(decoder *json.Decoder) (domain.Report, error) {
	report, err := domain.DecodeReportReader(decoder)
	if err != nil {
		return domain.Report{}, err
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return domain.Report{}, err
	}
	return report, nil
}

// decodeReportPayloadInto auto-detects batch vs single payload.
// Params: raw JSON bytes with one object or array, and pooled scratch space.
// Returns: validated reports slice backed by scratch; callers release after use.
func decodeReportPayloadInto(raw []byte, scratch *decodeScratch) ([]domain.Report, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		return decodeBatchReportsInto(decoder, scratch)
	}
	report, err := decodeSingleReport(decoder)
	if err != nil {
		return nil, err
	}
	reports := scratch.reports[:0]
	reports = append(reports, report)
	scratch.reports = reports
	return reports, nil
}

func decodeBatchReportsInto(decoder *json.Decoder, scratch *decodeScratch) ([]domain.Report, error) {
	reports := scratch.reports[:0]
	if err := decoder.Decode(&reports); err != nil {
		return nil, fmt.Errorf("decode report batch: %w", err)
	}
	if len(reports) == 0 {
		return nil, errors.New("report batch must contain at least one report")
	}
	for i := range reports {
		if err := reports[i].Normalize(); err != nil {
			return nil, fmt.Errorf("report[%d]: %w", i, err)
		}
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	scratch.reports = reports
	return reports, nil
}

func acquireDecodeScratch() *decodeScratch {
	return decodeScratchPool.Get().(*decodeScratch)
}

func releaseDecodeScratch(scratch *decodeScratch) {
	if scratch == nil {
		return
	}
	for i := range scratch.reports {
		scratch.reports[i] = domain.Report{}
	}
	if cap(scratch.reports) > maxPooledBatchCapacity {
		scratch.reports = make([]domain.Report, 0, 16)
	} else {
		scratch.reports = scratch.reports[:0]
	}
	decodeScratchPool.Put(scratch)
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}

// pushReports sends reports to sink one by one.
// Params: report sink and report slice.
// Returns: first push error or nil.
func pushReports(sink ReportSink, reports []domain.Report) error {
	for _, report := range reports {
		if err := sink.Push(report); err != nil {
			return err
		}
	}
	return nil
}
