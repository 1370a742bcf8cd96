package importer

import (
	"errors"
	"strings"
	"testing"

	"github.com/saltyorg/lighter/internal/database"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []database.WeightRecord
		wantErr bool
	}{
		{
			name:  "header and rows",
			input: "weight,date,time\n72.5,2024-01-01,08:00\n72.1,2024-01-02,08:05\n",
			want: []database.WeightRecord{
				{Weight: 72.5, Date: "2024-01-01", Time: "08:00"},
				{Weight: 72.1, Date: "2024-01-02", Time: "08:05"},
			},
		},
		{
			name:  "no header",
			input: "70,2024-02-01,07:30",
			want:  []database.WeightRecord{{Weight: 70, Date: "2024-02-01", Time: "07:30"}},
		},
		{
			name:  "comments blanks and spaces",
			input: "# exported\n\n 71.0, 2024-03-01, 09:00\n\n# end\n",
			want:  []database.WeightRecord{{Weight: 71, Date: "2024-03-01", Time: "09:00"}},
		},
		{
			name:  "empty file",
			input: "",
			want:  nil,
		},
		{
			name:    "bad weight",
			input:   "heavy,2024-01-01,08:00\n",
			wantErr: true,
		},
		{
			name:    "too few fields",
			input:   "72.5,2024-01-01\n",
			wantErr: true,
		},
		{
			name:    "header only counts once",
			input:   "weight,date,time\nweight,date,time\n",
			wantErr: true,
		},
		{
			name:    "not a number",
			input:   "NaN,2024-01-01,08:00\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCSV(strings.NewReader(tt.input))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("ParseCSV() error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCSV() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseCSV() returned %d records, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("record %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
