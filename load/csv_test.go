package load

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEncodeCSV(t *testing.T) {
	ts := time.Date(2024, 1, 5, 19, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		header  []string
		rows    [][]any
		want    string
		wantErr string
	}{
		{
			name:   "mixed value types",
			header: []string{"date", "close_price", "volume", "label"},
			rows: [][]any{
				{ts, 159.16, int64(2093123), "Bullish"},
				{ts.Add(time.Hour), 160.0, int64(0), "Somewhat, Bearish"},
			},
			want: "date,close_price,volume,label\n" +
				"2024-01-05 19:00:00,159.16,2093123,Bullish\n" +
				"2024-01-05 20:00:00,160,0,\"Somewhat, Bearish\"\n",
		},
		{
			name:   "header only",
			header: []string{"a"},
			rows:   nil,
			want:   "a\n",
		},
		{
			name:    "row width mismatch",
			header:  []string{"a", "b"},
			rows:    [][]any{{"x"}},
			wantErr: "row has 1 values",
		},
		{
			name:    "unsupported type",
			header:  []string{"a"},
			rows:    [][]any{{true}},
			wantErr: "unsupported value type bool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeCSV(tt.header, tt.rows)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCreateTmpFile_Empty(t *testing.T) {
	_, err := createTmpFile(nil)
	assert.ErrorContains(t, err, "received empty CSV data")
}
