package transfer

import "io"

// ProgressReader wraps an io.Reader and reports progress via a callback every
// interval bytes and once when the read reaches total.
type ProgressReader struct {
	reader     io.Reader
	total      int64
	interval   int64
	onProgress func(read, total int64)

	read       int64
	sinceLast  int64
	reportedAt int64
}

// NewProgressReader returns a ProgressReader. total may be -1 when unknown.
func NewProgressReader(r io.Reader, total, interval int64, cb func(read, total int64)) *ProgressReader {
	return &ProgressReader{reader: r, total: total, interval: interval, onProgress: cb}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceLast += int64(n)

		finished := pr.total > 0 && pr.read >= pr.total
		if pr.sinceLast >= pr.interval || finished {
			pr.report()
		}
	}

	if err == io.EOF && pr.read != pr.reportedAt {
		pr.report()
	}

	return n, err
}

func (pr *ProgressReader) report() {
	if pr.read == pr.reportedAt {
		return
	}

	pr.onProgress(pr.read, pr.total)
	pr.sinceLast = 0
	pr.reportedAt = pr.read
}
