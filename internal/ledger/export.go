package ledger

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// CSVエクスポート。列構成はツール連携の契約なので変更しないこと:
//   recordId,sessionId,studentId,status,timestamp,locationVerified
// タイムスタンプは RFC3339 (UTC)。

const (
	EncodingUTF8 = "utf8"
	EncodingSJIS = "sjis" // 日本語環境の Excel 向け (cp932)
)

var exportHeader = []string{"recordId", "sessionId", "studentId", "status", "timestamp", "locationVerified"}

// WriteCSV: 全記録を古い順で1行ずつ書く（ヘッダ行付き）
func WriteCSV(w io.Writer, records []AttendanceRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.SessionID,
			r.StudentID,
			string(r.Status),
			r.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatBool(r.LocationVerified),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV: encoding=sjis のときは cp932 に変換して書く（printLabels と同じ事情で
// Excel が UTF-8 CSV を文字化けさせるため）
func (s *Service) ExportCSV(w io.Writer, encoding string) error {
	records := s.store.Records()
	if encoding == EncodingSJIS {
		sw := transform.NewWriter(w, japanese.ShiftJIS.NewEncoder())
		if err := WriteCSV(sw, records); err != nil {
			return err
		}
		return sw.Close()
	}
	return WriteCSV(w, records)
}
