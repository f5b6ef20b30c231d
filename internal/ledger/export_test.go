package ledger

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// CSVの列構成・順序・表現は外部ツールとの契約なのでバイト単位で固定する
func TestWriteCSVExactBytes(t *testing.T) {
	records := []AttendanceRecord{
		{
			ID:               "01HREC0000000000000000000A",
			SessionID:        "01HSESSION0000000000000000",
			StudentID:        "stu-1",
			Status:           StatusOnTime,
			Timestamp:        time.Date(2026, 4, 6, 9, 0, 10, 0, time.UTC),
			LocationVerified: true,
		},
		{
			ID:               "01HREC0000000000000000000B",
			SessionID:        "01HSESSION0000000000000000",
			StudentID:        "stu-2",
			Status:           StatusLate,
			Timestamp:        time.Date(2026, 4, 6, 9, 15, 0, 0, time.UTC),
			LocationVerified: false,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records))

	want := "recordId,sessionId,studentId,status,timestamp,locationVerified\n" +
		"01HREC0000000000000000000A,01HSESSION0000000000000000,stu-1,on_time,2026-04-06T09:00:10Z,true\n" +
		"01HREC0000000000000000000B,01HSESSION0000000000000000,stu-2,late,2026-04-06T09:15:00Z,false\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteCSVHeaderOnlyWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "recordId,sessionId,studentId,status,timestamp,locationVerified\n", buf.String())
}

// sjis指定時は cp932 のバイト列で出る（学生IDに日本語が入るケース）
func TestExportCSVShiftJIS(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	require.NoError(t, store.Append(ctx, AttendanceRecord{
		ID:               "r1",
		SessionID:        "s1",
		StudentID:        "学生001",
		Status:           StatusOnTime,
		Timestamp:        time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC),
		LocationVerified: true,
	}))
	svc := NewService(store)

	var sjisBuf bytes.Buffer
	require.NoError(t, svc.ExportCSV(&sjisBuf, EncodingSJIS))

	// 復号して UTF-8 出力と一致することを確認
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), sjisBuf.Bytes())
	require.NoError(t, err)

	var utf8Buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(&utf8Buf, EncodingUTF8))

	assert.Equal(t, utf8Buf.String(), string(decoded))
	assert.NotEqual(t, utf8Buf.Bytes(), sjisBuf.Bytes(), "日本語を含むのでバイト列は変わる")
}
